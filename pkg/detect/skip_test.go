//go:build unit

package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

func TestSkipCacheSchedule(t *testing.T) {
	tests := []struct {
		skip int
		want []bool
	}{
		{0, []bool{true, true, true, true}},
		{2, []bool{true, false, false, true, false, false, true}},
		{-3, []bool{true, true}},
	}
	for _, tc := range tests {
		c := NewSkipCache(tc.skip)
		got := make([]bool, len(tc.want))
		for i := range got {
			got[i] = c.Next()
		}
		assert.Equal(t, tc.want, got, "skip=%d", tc.skip)
	}
}

func TestSkipCacheReplay(t *testing.T) {
	c := NewSkipCache(2)
	assert.Nil(t, c.Replay(1, 0))

	real := []meta.DetectionTarget{
		{Left: 1, Top: 2, Width: 3, Height: 4, Label: "bird", Score: 0.9, FrameIndex: 10, Channel: 0},
		{Left: 5, Top: 6, Width: 7, Height: 8, Label: "uav", Score: 0.6, FrameIndex: 10, Channel: 0},
	}
	c.Store(real)
	real[0].Label = "changed"

	replayed := c.Replay(11, 2)
	require.Len(t, replayed, 2)
	assert.Equal(t, "bird", replayed[0].Label)
	assert.Equal(t, "uav", replayed[1].Label)
	for _, tg := range replayed {
		assert.Equal(t, uint64(11), tg.FrameIndex)
		assert.Equal(t, 2, tg.Channel)
	}

	replayed[1].Left = 99
	again := c.Replay(12, 2)
	assert.Equal(t, 5, again[1].Left)
	assert.Equal(t, 2, c.Len())

	c.Store(nil)
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Replay(13, 2))

	c.Reset()
	assert.True(t, c.Next())
}
