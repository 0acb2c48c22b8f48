//go:build unit

package alarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "alarms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	at := time.UnixMilli(1_700_000_000_000)

	first := EventFromTarget("run-a", meta.DetectionTarget{
		Left: 456, Top: 220, Width: 96, Height: 99, Label: "uav", Score: 0.91, FrameIndex: 17, Channel: 1,
	}, at)
	second := first
	second.FrameIndex = 18
	second.Label = "bird"

	require.NoError(t, s.Record(ctx, first, second))
	require.NoError(t, s.Record(ctx))

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "bird", events[0].Label)
	got := events[1]
	assert.Equal(t, "run-a", got.RunID)
	assert.Equal(t, uint64(17), got.FrameIndex)
	assert.Equal(t, 1, got.Channel)
	assert.Equal(t, []int{456, 220, 96, 99}, []int{got.Left, got.Top, got.Width, got.Height})
	assert.InDelta(t, 0.91, got.Score, 1e-6)
	assert.True(t, got.At.Equal(at))

	limited, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Record(ctx,
		Event{RunID: "a", Label: "uav", At: time.Now()},
		Event{RunID: "a", Label: "uav", At: time.Now()},
		Event{RunID: "b", Label: "bird", At: time.Now()},
	))

	n, err := s.Count(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReopenKeepsEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alarms.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Event{RunID: "a", Label: "uav", At: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
