package catalog

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// Location is a resolved geography. Zone and City may be empty.
type Location struct {
	Country string
	City    string
	Zone    string
}

type geoEntry struct {
	phrase string
	loc    Location
}

// GeoIndex is an immutable name index of the zones and cities in the warehouse.
type GeoIndex struct {
	zones  []geoEntry
	cities []geoEntry
}

// NewGeoIndex builds an index from warehouse locations. The first location
// registered under a normalized name wins.
func NewGeoIndex(locs []Location) *GeoIndex {
	idx := &GeoIndex{}
	seenZone := map[string]bool{}
	seenCity := map[string]bool{}
	for _, l := range locs {
		if z := NormalizeText(l.Zone); z != "" && !seenZone[z] {
			seenZone[z] = true
			idx.zones = append(idx.zones, geoEntry{phrase: z, loc: l})
		}
		if c := NormalizeText(l.City); c != "" && !seenCity[c] {
			seenCity[c] = true
			idx.cities = append(idx.cities, geoEntry{phrase: c, loc: Location{Country: l.Country, City: l.City}})
		}
	}
	byLength := func(a, b geoEntry) int {
		if d := cmp.Compare(len(b.phrase), len(a.phrase)); d != 0 {
			return d
		}
		return cmp.Compare(a.phrase, b.phrase)
	}
	slices.SortStableFunc(idx.zones, byLength)
	slices.SortStableFunc(idx.cities, byLength)
	return idx
}

// MatchZone finds the longest zone name in text.
func (g *GeoIndex) MatchZone(text string) (Location, bool) {
	return match(g.zones, NormalizeText(text))
}

// MatchCity finds the longest city name in text.
func (g *GeoIndex) MatchCity(text string) (Location, bool) {
	return match(g.cities, NormalizeText(text))
}

// StripNames removes every indexed zone and city name from text, longest
// first, so that place names do not read as keywords.
func (g *GeoIndex) StripNames(text string) string {
	q := NormalizeText(text)
	for _, e := range g.zones {
		q = RemovePhrase(q, e.phrase)
	}
	for _, e := range g.cities {
		q = RemovePhrase(q, e.phrase)
	}
	return q
}

// Size returns the number of indexed zones and cities.
func (g *GeoIndex) Size() (zones, cities int) {
	return len(g.zones), len(g.cities)
}

func match(entries []geoEntry, q string) (Location, bool) {
	for _, e := range entries {
		if ContainsPhrase(q, e.phrase) {
			return e.loc, true
		}
	}
	return Location{}, false
}

// countryNames maps normalized country names to warehouse country codes.
var countryNames = []struct {
	name string
	code string
}{
	{"colombia", "CO"},
	{"mexico", "MX"},
	{"peru", "PE"},
	{"chile", "CL"},
	{"argentina", "AR"},
	{"brasil", "BR"},
	{"brazil", "BR"},
	{"uruguay", "UY"},
	{"ecuador", "EC"},
	{"costa rica", "CR"},
}

// MatchCountry finds a country name in text and returns its code.
func MatchCountry(text string) (string, bool) {
	q := NormalizeText(text)
	for _, c := range countryNames {
		if ContainsPhrase(q, c.name) {
			return c.code, true
		}
	}
	return "", false
}

// StripCountries removes every known country name from text.
func StripCountries(text string) string {
	q := NormalizeText(text)
	for _, c := range countryNames {
		q = RemovePhrase(q, c.name)
	}
	return q
}

// GeoCatalog lazily builds a GeoIndex from the warehouse on first use and
// shares it until Invalidate is called.
type GeoCatalog struct {
	wh     domain.Warehouse
	logger *slog.Logger

	mu  sync.Mutex
	idx *GeoIndex
}

// NewGeoCatalog creates a GeoCatalog over the warehouse.
func NewGeoCatalog(wh domain.Warehouse, logger *slog.Logger) *GeoCatalog {
	return &GeoCatalog{wh: wh, logger: logger.With("component", "geo_catalog")}
}

// Index returns the geography index, building it on first call. A failed
// build is not cached.
func (g *GeoCatalog) Index(ctx context.Context) (*GeoIndex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx != nil {
		return g.idx, nil
	}

	rows, err := g.wh.Query(ctx, `SELECT DISTINCT country, city, zone FROM zone_weekly_metrics ORDER BY country, city, zone`)
	if err != nil {
		return nil, fmt.Errorf("load geography: %w", err)
	}
	locs := make([]Location, 0, len(rows))
	for _, r := range rows {
		locs = append(locs, Location{Country: str(r["country"]), City: str(r["city"]), Zone: str(r["zone"])})
	}
	g.idx = NewGeoIndex(locs)
	zones, cities := g.idx.Size()
	g.logger.InfoContext(ctx, "geography index built", "zones", zones, "cities", cities)
	return g.idx, nil
}

// IndexOrEmpty returns the index, or an empty one when the warehouse cannot
// be read.
func (g *GeoCatalog) IndexOrEmpty(ctx context.Context) *GeoIndex {
	idx, err := g.Index(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "geography index unavailable", "error", err)
		return &GeoIndex{}
	}
	return idx
}

// Invalidate drops the cached index so the next call rebuilds it.
func (g *GeoCatalog) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx = nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
