// Package board renders a periodic terminal view of pipeline node counters
// and host memory.
package board

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/emergingrobotics/go-vpipe/pkg/node"
)

// Sample is one observation of the graph
type Sample struct {
	At    time.Time
	Nodes []node.Stats
	// MemTotal and MemAvailable are zero when MemErr is set
	MemTotal     uint64
	MemAvailable uint64
	MemErr       error
	// CPUPercent is host CPU use since the previous sample, -1 when unknown
	CPUPercent float64
}

// Board samples every node reachable from a root
type Board struct {
	root *node.Node
	out  io.Writer
	log  *zap.SugaredLogger
}

func New(root *node.Node, out io.Writer, log *zap.SugaredLogger) *Board {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Board{root: root, out: out, log: log}
}

// Sample collects node stats in breadth-first order and host memory
func (b *Board) Sample() Sample {
	s := Sample{At: time.Now()}
	node.Walk(b.root, func(n *node.Node) {
		s.Nodes = append(s.Nodes, n.Stats())
	})
	total, avail, err := memoryStats()
	s.MemTotal, s.MemAvailable, s.MemErr = total, avail, err
	s.CPUPercent = cpuPercent()
	return s
}

func cpuPercent() float64 {
	p, err := cpu.Percent(0, false)
	if err != nil || len(p) == 0 {
		return -1
	}
	return p[0]
}

func memoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// Render formats a sample as a table followed by a memory line
func Render(s Sample) (string, error) {
	data := pterm.TableData{
		{"node", "state", "queue", "pushed", "dropped", "processed", "panics"},
	}
	for _, n := range s.Nodes {
		queue := "-"
		if !n.Source {
			queue = fmt.Sprintf("%d/%d", n.QueueLen, n.Capacity)
		}
		data = append(data, []string{
			n.Name,
			n.State.String(),
			queue,
			strconv.FormatUint(n.Pushed, 10),
			strconv.FormatUint(n.Dropped, 10),
			strconv.FormatUint(n.Processed, 10),
			strconv.FormatUint(n.Panics, 10),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", errors.Wrap(err, "render node table")
	}

	memLine := "memory: unavailable"
	if s.MemErr == nil && s.MemTotal > 0 {
		used := s.MemTotal - s.MemAvailable
		memLine = fmt.Sprintf("memory: %d/%d MiB used (%.1f%%)",
			used>>20, s.MemTotal>>20, 100*float64(used)/float64(s.MemTotal))
	}
	cpuLine := "cpu: unavailable"
	if s.CPUPercent >= 0 {
		cpuLine = fmt.Sprintf("cpu: %.1f%%", s.CPUPercent)
	}
	return table + "\n" + memLine + "\n" + cpuLine + "\n", nil
}

// Run writes a rendered sample every interval until ctx ends
func (b *Board) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Newf("board interval must be > 0, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			out, err := Render(b.Sample())
			if err != nil {
				b.log.Warnw("board render failed", "error", err)
				continue
			}
			if _, err := io.WriteString(b.out, out); err != nil {
				return errors.Wrap(err, "write board")
			}
		}
	}
}
