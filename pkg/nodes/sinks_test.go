//go:build unit

package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/wsfeed"
	"github.com/emergingrobotics/go-vpipe/testutil"
)

func TestWriterOpensLazilyWithFallbackRate(t *testing.T) {
	ctx := context.Background()
	fw := testutil.NewFakeWriter()
	w := NewWriter(fw, true, nil, zaptest.NewLogger(t).Sugar())

	assert.Empty(t, fw.Opens())

	f := meta.NewFrame(0, 0, testutil.MakeBGR(8, 4, 1, 1, 1), 8, 4, 0)
	overlay := testutil.MakeBGR(8, 4, 9, 9, 9)
	f.SetOverlay(overlay)
	assert.Nil(t, w.HandleFrame(ctx, f))

	require.Equal(t, []testutil.OpenCall{{Width: 8, Height: 4, FPS: DefaultWriterFPS}}, fw.Opens())
	images := fw.Images()
	require.Len(t, images, 1)
	assert.Equal(t, overlay.Data, images[0].Data)

	fw2 := testutil.NewFakeWriter()
	plain := NewWriter(fw2, false, nil, nil)
	plain.HandleFrame(ctx, f)
	assert.Equal(t, f.Image().Data, fw2.Images()[0].Data)
}

func TestWriterRetriesFailedOpen(t *testing.T) {
	ctx := context.Background()
	fw := testutil.NewFakeWriter()
	fw.FailOpens(1)
	w := NewWriter(fw, false, nil, zaptest.NewLogger(t).Sugar())

	first := meta.NewFrame(0, 0, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 30)
	assert.Nil(t, w.HandleFrame(ctx, first))
	assert.Equal(t, uint64(1), w.Dropped())

	second := meta.NewFrame(0, 1, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 30)
	assert.Nil(t, w.HandleFrame(ctx, second))
	assert.Equal(t, []testutil.OpenCall{{Width: 8, Height: 4, FPS: 30}}, fw.Opens())
	assert.Equal(t, uint64(1), w.Written())
}

func TestWriterDropsFailedWrites(t *testing.T) {
	fw := testutil.NewFakeWriter()
	fw.SetFailOnWrite(true)
	w := NewWriter(fw, false, nil, nil)

	assert.Nil(t, w.HandleFrame(context.Background(), meta.NewFrame(0, 0, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 30)))
	assert.Equal(t, uint64(1), w.Dropped())
	assert.Zero(t, w.Written())
}

func TestWriterReopensOnSizeChange(t *testing.T) {
	ctx := context.Background()
	fw := testutil.NewFakeWriter()
	w := NewWriter(fw, false, nil, nil)

	w.HandleFrame(ctx, meta.NewFrame(0, 0, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 30))
	w.HandleFrame(ctx, meta.NewFrame(0, 1, testutil.MakeBGR(16, 8, 0, 0, 0), 16, 8, 30))

	assert.Len(t, fw.Opens(), 2)
	assert.Equal(t, 1, fw.Closes())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, 2, fw.Closes())
}

func TestWriterSignalsEndOfStream(t *testing.T) {
	var got []int
	w := NewWriter(testutil.NewFakeWriter(), false, func(ch int) { got = append(got, ch) }, nil)

	geo := meta.GeometryChanged(3, 0, 8, 4, 30)
	assert.Nil(t, w.HandleControl(context.Background(), geo))
	eos := meta.EndOfStream(3, 10)
	assert.Nil(t, w.HandleControl(context.Background(), eos))
	assert.Equal(t, []int{3}, got)
}

func TestAlarmRecordsAlarmLabelsOnly(t *testing.T) {
	rec := &testutil.FakeRecorder{}
	a := NewAlarm(rec, "run-7", func(l string) bool { return l == "uav" }, zaptest.NewLogger(t).Sugar())

	f := meta.NewFrame(1, 12, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 0)
	f.Targets().Append(
		meta.DetectionTarget{Label: "bird", FrameIndex: 12, Channel: 1},
		meta.DetectionTarget{Label: "uav", Score: 0.8, Left: 2, FrameIndex: 12, Channel: 1},
	)
	assert.Nil(t, a.HandleFrame(context.Background(), f))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "run-7", events[0].RunID)
	assert.Equal(t, "uav", events[0].Label)
	assert.Equal(t, uint64(12), events[0].FrameIndex)
	assert.Equal(t, 2, events[0].Left)
	assert.Equal(t, uint64(1), a.Recorded())

	rec.SetFail(true)
	assert.Nil(t, a.HandleFrame(context.Background(), f))
	assert.Equal(t, uint64(1), a.Recorded())
	assert.Nil(t, a.HandleControl(context.Background(), meta.EndOfStream(1, 13)))
}

func TestFeedPublishesSummaries(t *testing.T) {
	out := &testutil.FakeBroadcaster{}
	feed := NewFeed(out, "run-1", nil)

	f := meta.NewFrame(0, 4, testutil.MakeBGR(8, 4, 0, 0, 0), 8, 4, 0)
	f.Targets().Append(meta.DetectionTarget{Label: "bird", Score: 0.5, Width: 3})
	assert.Nil(t, feed.HandleFrame(context.Background(), f))

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	var s wsfeed.Summary
	require.NoError(t, json.Unmarshal(msgs[0], &s))
	assert.Equal(t, uint64(4), s.Frame)
	assert.Equal(t, "run-1", s.RunID)
	require.Len(t, s.Targets, 1)
	assert.Equal(t, "bird", s.Targets[0].Label)
	assert.Equal(t, uint64(1), feed.Published())
	assert.Nil(t, feed.HandleControl(context.Background(), meta.EndOfStream(0, 5)))
}
