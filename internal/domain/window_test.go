package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		token string
		want  WeekRange
	}{
		{"L0W", WeekRange{0, 0}},
		{"l0w", WeekRange{0, 0}},
		{"L1W-L0W", WeekRange{0, 0}},
		{"L5W-L0W", WeekRange{0, 4}},
		{"L8W-L0W", WeekRange{0, 7}},
		{"L3W-L6W", WeekRange{3, 6}},
		{"L6W-L3W", WeekRange{3, 6}},
		{"L4W", WeekRange{4, 4}},
		{" L2W-L0W ", WeekRange{0, 1}},
		{"", WeekRange{0, 0}},
		{"last week", WeekRange{0, 0}},
		{"L-1W", WeekRange{0, 0}},
		{"LxW-L0W", WeekRange{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseWindow(tt.token))
		})
	}
}

func TestParseWindow_TrailingWindowsCoverKWeeks(t *testing.T) {
	for k := 1; k <= 52; k++ {
		got := ParseWindow(fmt.Sprintf("L%dW-L0W", k))
		assert.Equal(t, WeekRange{Lo: 0, Hi: k - 1}, got, "k=%d", k)
		assert.Equal(t, k, got.Weeks())
	}
}

func TestLastNWeeks(t *testing.T) {
	assert.Equal(t, "L5W-L0W", LastNWeeks(5))
	assert.Equal(t, "L0W", LastNWeeks(0))
	assert.True(t, ParseWindow(LastNWeeks(1)).SingleWeek())
}

func TestPrettyWindow(t *testing.T) {
	assert.Equal(t, "Week 0 (current)", PrettyWindow("L0W"))
	assert.Equal(t, "Last 8 weeks", PrettyWindow("L8W-L0W"))
	assert.Equal(t, "L3W-L5W", PrettyWindow("L3W-L5W"))
}
