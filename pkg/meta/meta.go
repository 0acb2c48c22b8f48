// Package meta defines the data units that flow between pipeline nodes.
//
// A Meta is either a *Frame or a *Control. The set is closed: other packages
// cannot add variants, so a type switch over the two is exhaustive.
//
// Metas are shared by reference across every subscriber of a node. A Frame's
// image payload is immutable after construction; the only mutable parts are
// the append-only target list and the auxiliary buffers, which are safe for
// concurrent use.
package meta

import "fmt"

// Kind tags the meta variant
type Kind int

const (
	KindFrame Kind = iota
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Meta is the unit of data traversing the graph
type Meta interface {
	Kind() Kind
	// Channel is the source channel index
	Channel() int
	// Sequence is the logical position in the channel's stream
	Sequence() uint64

	sealed()
}

// Command identifies a control event
type Command int

const (
	CommandGeometryChanged Command = iota + 1
	CommandEndOfStream
	CommandCustom
)

func (c Command) String() string {
	switch c {
	case CommandGeometryChanged:
		return "geometry_changed"
	case CommandEndOfStream:
		return "end_of_stream"
	case CommandCustom:
		return "custom"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Control carries a command or stream event. Controls are never dropped by
// queue overflow.
type Control struct {
	channel int
	seq     uint64

	Command Command
	// Width, Height and FPS are set for CommandGeometryChanged
	Width  int
	Height int
	FPS    int
	// Detail is free-form text for CommandCustom
	Detail string
}

// NewControl creates a control meta
func NewControl(channel int, seq uint64, cmd Command) *Control {
	return &Control{channel: channel, seq: seq, Command: cmd}
}

// GeometryChanged announces new stream dimensions
func GeometryChanged(channel int, seq uint64, width, height, fps int) *Control {
	c := NewControl(channel, seq, CommandGeometryChanged)
	c.Width = width
	c.Height = height
	c.FPS = fps
	return c
}

// EndOfStream marks the end of a channel's stream
func EndOfStream(channel int, seq uint64) *Control {
	return NewControl(channel, seq, CommandEndOfStream)
}

func (c *Control) Kind() Kind       { return KindControl }
func (c *Control) Channel() int     { return c.channel }
func (c *Control) Sequence() uint64 { return c.seq }
func (c *Control) sealed()          {}

func (c *Control) String() string {
	return fmt.Sprintf("control{ch=%d seq=%d cmd=%s}", c.channel, c.seq, c.Command)
}
