// Package logsource describes the survey log container as the pipeline
// sees it: a sequential source of typed, timestamped messages. The
// container's own file format is not visible here.
package logsource

import (
	"math"
	"sort"
)

// Message is one logged message. Only the timestamp, a few named numeric
// fields and the raw payload are used by the pipeline.
type Message struct {
	Type            string             `json:"type"`
	TimestampMillis int64              `json:"timestamp_ms"`
	Source          int                `json:"source"`
	Fields          map[string]float64 `json:"fields,omitempty"`
	Payload         []byte             `json:"-"`
}

// Float returns the named field, or 0 when absent.
func (m *Message) Float(name string) float64 {
	return m.Fields[name]
}

// Lookup returns the named field and whether it is present.
func (m *Message) Lookup(name string) (float64, bool) {
	v, ok := m.Fields[name]
	return v, ok
}

// Int returns the named field truncated to an int64.
func (m *Message) Int(name string) int64 {
	v := m.Fields[name]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(v)
}

// Cursor walks messages of one type in timestamp order.
type Cursor interface {
	// Next returns the next message, or false at the end of the stream.
	Next() (*Message, bool)
	// Reset rewinds to the first message.
	Reset()
	// Close releases the cursor's resources.
	Close() error
}

// Bundle is a log directory containing messages from one or more vehicles.
type Bundle interface {
	// Iterate returns a cursor over messages of msgType. The cursor is
	// empty when the type is absent.
	Iterate(msgType string) Cursor
	// Log returns a cursor over msgType, or nil when the bundle has none.
	Log(name string) Cursor
	// VehicleSources lists the source ids present in the bundle.
	VehicleSources() []int
	// Dir is the bundle directory; caches are written under it.
	Dir() string
}

// MemoryBundle is an in-memory Bundle.
type MemoryBundle struct {
	dir  string
	msgs map[string][]*Message
}

// NewMemoryBundle creates an empty bundle rooted at dir.
func NewMemoryBundle(dir string) *MemoryBundle {
	return &MemoryBundle{dir: dir, msgs: make(map[string][]*Message)}
}

// Add appends messages, keeping each type sorted by timestamp.
func (b *MemoryBundle) Add(msgs ...*Message) {
	touched := make(map[string]bool)
	for _, m := range msgs {
		b.msgs[m.Type] = append(b.msgs[m.Type], m)
		touched[m.Type] = true
	}
	for typ := range touched {
		list := b.msgs[typ]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].TimestampMillis < list[j].TimestampMillis
		})
	}
}

// Iterate implements Bundle.
func (b *MemoryBundle) Iterate(msgType string) Cursor {
	return &SliceCursor{msgs: b.msgs[msgType]}
}

// Log implements Bundle.
func (b *MemoryBundle) Log(name string) Cursor {
	if len(b.msgs[name]) == 0 {
		return nil
	}
	return &SliceCursor{msgs: b.msgs[name]}
}

// VehicleSources implements Bundle.
func (b *MemoryBundle) VehicleSources() []int {
	seen := make(map[int]bool)
	var out []int
	for _, list := range b.msgs {
		for _, m := range list {
			if !seen[m.Source] {
				seen[m.Source] = true
				out = append(out, m.Source)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Dir implements Bundle.
func (b *MemoryBundle) Dir() string { return b.dir }

// SliceCursor is a Cursor over a slice of messages.
type SliceCursor struct {
	msgs []*Message
	pos  int
}

// NewSliceCursor returns a cursor over msgs, which must be time ordered.
func NewSliceCursor(msgs []*Message) *SliceCursor {
	return &SliceCursor{msgs: msgs}
}

// Next implements Cursor.
func (c *SliceCursor) Next() (*Message, bool) {
	if c.pos >= len(c.msgs) {
		return nil, false
	}
	m := c.msgs[c.pos]
	c.pos++
	return m, true
}

// Reset implements Cursor.
func (c *SliceCursor) Reset() { c.pos = 0 }

// Close implements Cursor.
func (c *SliceCursor) Close() error { return nil }

// HasLog reports whether the bundle contains any message of type name.
func HasLog(b Bundle, name string) bool {
	c := b.Log(name)
	if c == nil {
		return false
	}
	c.Close()
	return true
}
