package report

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/polypoint/ranging"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		distances []float32
		want      Summary
	}{
		{
			name:      "all dropped",
			distances: []float32{0, 0, 0},
			want:      Summary{Dropped: 3},
		},
		{
			name:      "single sample",
			distances: []float32{0, 2.5, 0},
			want:      Summary{Valid: 1, Dropped: 2, Mean: 2.5, Median: 2.5, Min: 2.5, Max: 2.5},
		},
		{
			name:      "odd count",
			distances: []float32{3, 1, 0, 2},
			want:      Summary{Valid: 3, Dropped: 1, Mean: 2, Median: 2, StdDev: 1, Min: 1, Max: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(ranging.RoundReport{Distances: tt.distances})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeNegativeDistances(t *testing.T) {
	// Calibration can push short ranges below zero; they are still samples.
	got := Summarize(ranging.RoundReport{Distances: []float32{-0.5, 0.5}})
	assert.Equal(t, 2, got.Valid)
	assert.Zero(t, got.Mean)
	assert.InDelta(t, math.Sqrt(0.5), got.StdDev, 1e-12)
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecord(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "rounds.db"))
	_, err := uuid.Parse(s.RunID())
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	require.NoError(t, s.Record(ctx, ranging.RoundReport{AnchorID: 3, Round: 7, SeqCount: 1, Distances: []float32{1, 0, 3}, CompletedAt: at}))
	require.NoError(t, s.Record(ctx, ranging.RoundReport{AnchorID: 3, Round: 8, SeqCount: 2, Distances: []float32{0, 0, 0}, CompletedAt: at.Add(time.Second)}))

	rounds, err := s.Rounds(ctx, s.RunID())
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	assert.Equal(t, uint8(7), rounds[0].RoundNum)
	assert.Equal(t, uint32(1), rounds[0].SeqCount)
	assert.Equal(t, at, rounds[0].CompletedAt)
	assert.Equal(t, 2, rounds[0].Valid)
	assert.True(t, rounds[0].Mean.Valid)
	assert.Equal(t, 2.0, rounds[0].Mean.Float64)
	assert.Equal(t, []float32{1, 0, 3}, rounds[0].Distances)

	assert.Zero(t, rounds[1].Valid)
	assert.False(t, rounds[1].Mean.Valid)
	assert.Equal(t, []float32{0, 0, 0}, rounds[1].Distances)
}

func TestStoreRunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rounds.db")

	first := openStore(t, path)
	require.NoError(t, first.Record(ctx, ranging.RoundReport{Round: 1, Distances: []float32{1}}))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	assert.NotEqual(t, first.RunID(), second.RunID())

	rounds, err := second.Rounds(ctx, second.RunID())
	require.NoError(t, err)
	assert.Empty(t, rounds)

	rounds, err = second.Rounds(ctx, first.RunID())
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

type recorder struct {
	mu     sync.Mutex
	rounds []ranging.RoundReport
	err    error
}

func (r *recorder) Record(_ context.Context, rep ranging.RoundReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, rep)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rounds)
}

func TestSinkRecordsInBackground(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	sink := NewSink(rec, nil, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	sink.Handle(ranging.RoundReport{Round: 1, Distances: []float32{1}})
	sink.Handle(ranging.RoundReport{Round: 2, Distances: []float32{2}})
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, sink.Dropped())
}

func TestSinkDropsWhenFull(t *testing.T) {
	sink := NewSink(nil, nil, 1)
	sink.Handle(ranging.RoundReport{Round: 1})
	sink.Handle(ranging.RoundReport{Round: 2})
	assert.Equal(t, uint64(1), sink.Dropped())
}
