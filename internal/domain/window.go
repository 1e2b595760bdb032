package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Week-window tokens. Offset 0 is the most recent complete week; larger
// offsets are older weeks.
const (
	WindowCurrentWeek = "L0W"
	WindowDefault     = "L8W-L0W"
)

var (
	singleWeekRe   = regexp.MustCompile(`^L(\d+)W$`)
	trailingRe     = regexp.MustCompile(`^L(\d+)W-L0W$`)
	genericRangeRe = regexp.MustCompile(`^L(\d+)W-L(\d+)W$`)
)

// WeekRange is an inclusive range of week offsets.
type WeekRange struct {
	Lo int
	Hi int
}

// SingleWeek reports whether the range covers exactly one week.
func (r WeekRange) SingleWeek() bool { return r.Lo == r.Hi }

// Weeks returns the number of weeks covered.
func (r WeekRange) Weeks() int { return r.Hi - r.Lo + 1 }

// LastNWeeks returns the token for the n-week window ending at the current week.
func LastNWeeks(n int) string {
	if n <= 0 {
		return WindowCurrentWeek
	}
	return fmt.Sprintf("L%dW-L0W", n)
}

// ParseWindow resolves a window token to its inclusive offset range.
//
//	L0W      -> [0,0]
//	LkW-L0W  -> [0,k-1]
//	LaW-LbW  -> [min(a,b), max(a,b)]
//	LdW      -> [d,d]
//
// Anything else resolves to the current week.
func ParseWindow(token string) WeekRange {
	r := strings.ToUpper(strings.TrimSpace(token))
	if r == "" || r == WindowCurrentWeek {
		return WeekRange{}
	}
	if m := trailingRe.FindStringSubmatch(r); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return WeekRange{}
		}
		return WeekRange{Lo: 0, Hi: max(n-1, 0)}
	}
	if m := genericRangeRe.FindStringSubmatch(r); m != nil {
		a, errA := strconv.Atoi(m[1])
		b, errB := strconv.Atoi(m[2])
		if errA != nil || errB != nil {
			return WeekRange{}
		}
		return WeekRange{Lo: min(a, b), Hi: max(a, b)}
	}
	if m := singleWeekRe.FindStringSubmatch(r); m != nil {
		d, err := strconv.Atoi(m[1])
		if err != nil {
			return WeekRange{}
		}
		return WeekRange{Lo: d, Hi: d}
	}
	return WeekRange{}
}

// PrettyWindow renders a window token for titles.
func PrettyWindow(token string) string {
	r := strings.ToUpper(strings.TrimSpace(token))
	switch {
	case r == "" || r == WindowCurrentWeek:
		return "Week 0 (current)"
	case trailingRe.MatchString(r):
		n, _ := strconv.Atoi(trailingRe.FindStringSubmatch(r)[1])
		return fmt.Sprintf("Last %d weeks", n)
	default:
		return r
	}
}
