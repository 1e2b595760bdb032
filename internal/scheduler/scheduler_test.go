package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/insights"
	"github.com/juanfero/rappi-intelligent-ops/internal/testutil"
)

type fakeRunner struct {
	calls   atomic.Int32
	save    bool
	trigger string
	err     error
}

func (f *fakeRunner) Run(_ context.Context, _ domain.InsightScope, save bool, trigger string) (*insights.RunOutput, error) {
	f.calls.Add(1)
	f.save, f.trigger = save, trigger
	if f.err != nil {
		return nil, f.err
	}
	return &insights.RunOutput{RunID: "r1", Report: &domain.InsightReport{}}, nil
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		schedule    string
		wantErr     bool
		wantEntries int
	}{
		{name: "registers job", schedule: "0 7 * * MON", wantEntries: 1},
		{name: "descriptor", schedule: "@daily", wantEntries: 1},
		{name: "disabled", schedule: "", wantEntries: 0},
		{name: "invalid expression", schedule: "every monday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(&fakeRunner{}, tt.schedule, testutil.DiscardLogger())
			t.Cleanup(s.Stop)

			err := s.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid insight schedule")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntries, s.Entries())
		})
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, "@hourly", testutil.DiscardLogger())

	s.RunOnce(context.Background())
	assert.EqualValues(t, 1, r.calls.Load())
	assert.True(t, r.save)
	assert.Equal(t, domain.TriggerSchedule, r.trigger)

	r.err = errors.New("warehouse missing")
	s.RunOnce(context.Background())
	assert.EqualValues(t, 2, r.calls.Load(), "failures are logged, not fatal")
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := New(&fakeRunner{}, "@hourly", testutil.DiscardLogger())
	assert.NotPanics(t, s.Stop)
}
