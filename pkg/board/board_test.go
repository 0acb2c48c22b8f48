//go:build unit

package board

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/node"
	"github.com/emergingrobotics/go-vpipe/pkg/queue"
)

type passthrough struct{}

func (passthrough) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta     { return f }
func (passthrough) HandleControl(ctx context.Context, c *meta.Control) meta.Meta { return c }

func idle(ctx context.Context, gate *queue.Gate, emit func(meta.Meta)) error {
	<-ctx.Done()
	return nil
}

func graph(t *testing.T) *node.Node {
	t.Helper()
	src := node.NewSource("src", idle)
	mid := node.New("mid", passthrough{}, node.WithQueueCapacity(4))
	sink := node.New("sink", passthrough{})
	require.NoError(t, mid.Attach(src))
	require.NoError(t, sink.Attach(mid))
	return src
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSampleWalksGraph(t *testing.T) {
	b := New(graph(t), nil, nil)
	s := b.Sample()

	require.Len(t, s.Nodes, 3)
	assert.Equal(t, "src", s.Nodes[0].Name)
	assert.True(t, s.Nodes[0].Source)
	assert.Equal(t, "mid", s.Nodes[1].Name)
	assert.Equal(t, 4, s.Nodes[1].Capacity)
	assert.Equal(t, "sink", s.Nodes[2].Name)
	assert.False(t, s.At.IsZero())
}

func TestRender(t *testing.T) {
	s := Sample{
		Nodes: []node.Stats{
			{Name: "src", Source: true},
			{Name: "infer", QueueLen: 2, Capacity: 8, Pushed: 40, Dropped: 3, Processed: 37},
		},
		MemTotal:     8 << 30,
		MemAvailable: 6 << 30,
		CPUPercent:   12.5,
	}
	out, err := Render(s)
	require.NoError(t, err)

	assert.Contains(t, out, "infer")
	assert.Contains(t, out, "2/8")
	assert.Contains(t, out, "37")
	assert.Contains(t, out, "constructed")
	assert.Contains(t, out, "memory: 2048/8192 MiB used (25.0%)")
	assert.Contains(t, out, "cpu: 12.5%")
}

func TestRenderWithoutMemory(t *testing.T) {
	out, err := Render(Sample{MemErr: errors.New("no procfs"), CPUPercent: -1})
	require.NoError(t, err)
	assert.Contains(t, out, "memory: unavailable")
	assert.Contains(t, out, "cpu: unavailable")
}

func TestRunWritesUntilCancelled(t *testing.T) {
	var out syncBuffer
	b := New(graph(t), &out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("sink"))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("board did not stop")
	}
}

func TestRunRejectsInterval(t *testing.T) {
	b := New(graph(t), &syncBuffer{}, nil)
	assert.Error(t, b.Run(context.Background(), 0))
}
