package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

func specWith(filters domain.Filters, groupBy []string, ctx map[string]any) *domain.AnalyticsSpec {
	s := domain.DefaultSpec()
	s.Filters = filters
	s.GroupBy = groupBy
	s.Context = ctx
	return s
}

func TestMemory_ExplicitCountryIsIdempotent(t *testing.T) {
	m := New()
	spec := specWith(domain.Filters{Country: "CO"}, []string{"zone"}, map[string]any{domain.CtxExplicitCountry: true})

	m.UpdateFromSpec(spec)
	once := m.Get()
	m.UpdateFromSpec(spec)

	assert.Equal(t, once, m.Get())
	assert.Equal(t, "CO", m.Get().Country)
}

func TestMemory_GroupByCountryAlwaysClears(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{Country: "CO"}, nil, map[string]any{domain.CtxExplicitCountry: true}))
	assert.Equal(t, "CO", m.Get().Country)

	// The incoming spec still carries a country; grouping wins.
	m.UpdateFromSpec(specWith(domain.Filters{Country: "MX"}, []string{"country"}, map[string]any{domain.CtxExplicitCountry: true}))
	assert.Empty(t, m.Get().Country)
}

func TestMemory_ImplicitCountryDoesNotStick(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{Country: "CO"}, nil, map[string]any{domain.CtxExplicitCountry: true}))

	// Follow-up inherited CO from memory without stating it.
	m.UpdateFromSpec(specWith(domain.Filters{Country: "CO"}, nil, map[string]any{domain.CtxExplicitCountry: false}))
	assert.Empty(t, m.Get().Country)
}

func TestMemory_NoContextFallsBackToIncoming(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{Country: "PE"}, nil, nil))
	assert.Equal(t, "PE", m.Get().Country)

	m.UpdateFromSpec(specWith(domain.Filters{}, nil, nil))
	assert.Empty(t, m.Get().Country)
}

func TestMemory_NarrowFiltersOnlyOverwrite(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{City: "Bogota", Zone: "Chapinero", ZoneType: domain.ZoneTypeWealthy}, nil, nil))
	m.UpdateFromSpec(specWith(domain.Filters{}, nil, nil))

	got := m.Get()
	assert.Equal(t, "Bogota", got.City)
	assert.Equal(t, "Chapinero", got.Zone)
	assert.Equal(t, domain.ZoneTypeWealthy, got.ZoneType)

	m.UpdateFromSpec(specWith(domain.Filters{City: "Medellin"}, nil, nil))
	assert.Equal(t, "Medellin", m.Get().City)
	assert.Equal(t, "Chapinero", m.Get().Zone)
}

func TestMemory_ResetAndNil(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{Country: "CL", City: "Santiago"}, nil, nil))
	m.UpdateFromSpec(nil)
	assert.Equal(t, "Santiago", m.Get().City)

	m.Reset()
	assert.True(t, m.Get().IsZero())
}

func TestMemory_MetadataOnlyContextKeepsIncomingCountry(t *testing.T) {
	m := New()
	m.UpdateFromSpec(specWith(domain.Filters{Country: "PE"}, nil, map[string]any{domain.CtxSource: "api"}))
	assert.Equal(t, "PE", m.Get().Country)

	m.UpdateFromSpec(specWith(domain.Filters{Country: "CO"}, nil, map[string]any{domain.CtxSource: "api", domain.CtxExplicitCountry: false}))
	assert.Empty(t, m.Get().Country)
}

func TestStore_Sessions(t *testing.T) {
	s := NewStore()
	a := s.Session("a")
	a.UpdateFromSpec(specWith(domain.Filters{City: "Lima"}, nil, nil))

	assert.Same(t, a, s.Session("a"))
	assert.True(t, s.Session("b").Get().IsZero())
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Reset("a"))
	assert.True(t, s.Session("a").Get().IsZero())
	assert.False(t, s.Reset("missing"))
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := s.Session("shared")
			m.UpdateFromSpec(specWith(domain.Filters{City: "Quito"}, nil, map[string]any{domain.CtxExplicitCountry: i%2 == 0}))
			_ = m.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "Quito", s.Session("shared").Get().City)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_SweepEvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewStore(WithIdleTTL(time.Hour), WithClock(clock.Now))

	for i := range 100 {
		s.Session(fmt.Sprintf("s%d", i))
	}
	s.Session("active")
	assert.Equal(t, 101, s.Len())

	clock.Advance(45 * time.Minute)
	s.Session("active")
	assert.Zero(t, s.Sweep(), "nothing idle past the TTL yet")

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 100, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("active"))
	assert.False(t, s.Reset("s0"))
}

func TestStore_StartSweeper(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStore(WithIdleTTL(time.Minute), WithClock(clock.Now))
	s.Session("idle")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartSweeper(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}
