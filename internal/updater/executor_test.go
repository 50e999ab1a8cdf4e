package updater

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

func TestClampTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		source   uint64
		destTime uint64
		want     uint64
		clamped  bool
	}{
		{name: "behind destination", source: 1_700_000_000, destTime: 1_700_000_060, want: 1_700_000_000},
		{name: "equal", source: 1_700_000_060, destTime: 1_700_000_060, want: 1_700_000_060},
		{name: "ahead gets clamped", source: 1_700_000_090, destTime: 1_700_000_060, want: 1_700_000_060, clamped: true},
		{name: "one second ahead", source: 1_700_000_061, destTime: 1_700_000_060, want: 1_700_000_060, clamped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := domain.Observation{SourceTimestamp: tt.source}
			orig, clamped := clampTimestamp(&obs, tt.destTime)

			require.Equal(t, tt.clamped, clamped)
			require.Equal(t, tt.want, obs.SourceTimestamp)
			if clamped {
				require.Equal(t, tt.source, orig)
			} else {
				require.Zero(t, orig)
			}
		})
	}
}

func TestFinishClassifiesOutcomes(t *testing.T) {
	e := &Executor{logger: testLogger()}
	feed := testFeed("a")

	tests := []struct {
		name    string
		err     error
		outcome domain.UpdateOutcome
		errText string
	}{
		{name: "success", err: nil, outcome: domain.OutcomeSuccess},
		{
			name:    "skip",
			err:     &skipped{reason: "relay interval not elapsed"},
			outcome: domain.OutcomeSkipped,
			errText: "relay interval not elapsed",
		},
		{
			name:    "wrapped skip",
			err:     fmt.Errorf("eligibility: %w", &skipped{reason: "gas above ceiling"}),
			outcome: domain.OutcomeSkipped,
			errText: "gas above ceiling",
		},
		{
			name:    "failure",
			err:     errors.New("verifier unreachable"),
			outcome: domain.OutcomeFailed,
			errText: "verifier unreachable",
		},
		{
			name:    "protocol rejection",
			err:     fmt.Errorf("updater: relay preflight: %w", domain.ErrDeviationTooHigh),
			outcome: domain.OutcomeFailed,
			errText: "updater: relay preflight: deviation too high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt := domain.UpdateAttempt{
				FeedID:    feed.ID,
				StartedAt: time.Now().UTC(),
			}
			e.finish(feed, &attempt, tt.err)

			require.Equal(t, tt.outcome, attempt.Outcome)
			require.Equal(t, tt.errText, attempt.Error)
			require.False(t, attempt.DoneAt.IsZero())
		})
	}
}
