package updater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// fakeArchiver scripts the outcome of ArchiveAttempts and records the
// cutoffs it was called with.
type fakeArchiver struct {
	mu         sync.Mutex
	cutoffs    []time.Time
	archived   int64
	archiveErr error
}

func (a *fakeArchiver) ArchiveProof(_ context.Context, feedID string, _ domain.AttestationProof) (string, error) {
	return "proofs/" + feedID, nil
}

func (a *fakeArchiver) ArchiveAttempts(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archiveErr != nil {
		return 0, a.archiveErr
	}
	a.cutoffs = append(a.cutoffs, before)
	return a.archived, nil
}

func (a *fakeArchiver) sweepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cutoffs)
}

func TestSweepArchivesThenDeletes(t *testing.T) {
	arch := &fakeArchiver{archived: 42}
	store := &fakeAttemptStore{deleteCount: 42}
	ret := NewRetention(arch, store, 90, testLogger())

	require.NoError(t, ret.Sweep(context.Background()))

	require.Len(t, arch.cutoffs, 1)
	require.Len(t, store.deleted, 1)
	require.Equal(t, arch.cutoffs[0], store.deleted[0])

	wantCutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	require.WithinDuration(t, wantCutoff, arch.cutoffs[0], time.Minute)
}

func TestSweepSkipsDeleteWhenNothingArchived(t *testing.T) {
	arch := &fakeArchiver{archived: 0}
	store := &fakeAttemptStore{}
	ret := NewRetention(arch, store, 30, testLogger())

	require.NoError(t, ret.Sweep(context.Background()))
	require.Len(t, arch.cutoffs, 1)
	require.Empty(t, store.deleted)
}

func TestSweepKeepsRowsWhenArchiveFails(t *testing.T) {
	bucketErr := errors.New("bucket offline")
	arch := &fakeArchiver{archiveErr: bucketErr}
	store := &fakeAttemptStore{}
	ret := NewRetention(arch, store, 30, testLogger())

	err := ret.Sweep(context.Background())
	require.ErrorIs(t, err, bucketErr)
	require.Empty(t, store.deleted, "rows must survive a failed upload")
}

func TestSweepSurfacesDeleteFailure(t *testing.T) {
	dbErr := errors.New("connection reset")
	arch := &fakeArchiver{archived: 7}
	store := &fakeAttemptStore{deleteErr: dbErr}
	ret := NewRetention(arch, store, 30, testLogger())

	err := ret.Sweep(context.Background())
	require.ErrorIs(t, err, dbErr)
}

func TestRunSweepsOnceThenStopsOnCancel(t *testing.T) {
	arch := &fakeArchiver{}
	store := &fakeAttemptStore{}
	ret := NewRetention(arch, store, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ret.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, arch.sweepCount())
}
