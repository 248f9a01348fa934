package routing

import (
	"errors"
	"fmt"

	"github.com/danmuck/hopmq/internal/protocol/frame"
)

const (
	// MaxHops is the number of routing slots ahead of the queue slot.
	MaxHops = frame.RouteSlots - 1
	// StopMarker terminates descent through the routing chain.
	StopMarker = "!"
)

var (
	ErrMissingQueue        = errors.New("routing: queue name required")
	ErrWildcardUnsupported = errors.New("routing: wildcard entries are not supported")
	ErrEmptyHop            = errors.New("routing: hop name required")
)

type EntryKind uint8

const (
	KindHop EntryKind = iota
	KindStop
	KindWildcard
)

// Entry is one routing hop.
type Entry struct {
	Kind EntryKind
	Name string
}

func Hop(name string) Entry { return Entry{Kind: KindHop, Name: name} }

func Stop() Entry { return Entry{Kind: KindStop} }

// Wildcard can be constructed but every chain build rejects it.
func Wildcard() Entry { return Entry{Kind: KindWildcard} }

func (e Entry) String() string {
	switch e.Kind {
	case KindHop:
		return e.Name
	case KindStop:
		return StopMarker
	}
	return "*"
}

func (e Entry) validate() error {
	switch e.Kind {
	case KindHop:
		if e.Name == "" {
			return ErrEmptyHop
		}
		if e.Name == StopMarker {
			return fmt.Errorf("routing: hop name %q is reserved", StopMarker)
		}
		if len(e.Name) > frame.NameLen {
			return fmt.Errorf("%w: hop %q", frame.ErrTextTooLong, e.Name)
		}
		return nil
	case KindStop:
		return nil
	case KindWildcard:
		return ErrWildcardUnsupported
	}
	return fmt.Errorf("routing: unknown entry kind %d", e.Kind)
}

// Chain is a validated sequence of at most MaxHops entries plus an optional
// destination queue. Only Builder produces non-zero chains.
type Chain struct {
	entries []Entry
	queue   string
}

func (c Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c Chain) Queue() string { return c.queue }

func (c Chain) HasQueue() bool { return c.queue != "" }

func (c Chain) String() string {
	s := ""
	for _, e := range c.entries {
		s += e.String() + "/"
	}
	return s + c.queue
}

// Slots serializes the chain into the four route fields. Supplied entries
// occupy the leading slots; missing trailing slots stay all-zero.
func (c Chain) Slots() ([frame.RouteSlots][frame.NameLen]byte, error) {
	var out [frame.RouteSlots][frame.NameLen]byte
	for i, e := range c.entries {
		if err := e.validate(); err != nil {
			return out, err
		}
		if err := frame.PutText(out[i][:], e.String()); err != nil {
			return out, err
		}
	}
	if err := frame.PutText(out[frame.RouteSlots-1][:], c.queue); err != nil {
		return out, err
	}
	return out, nil
}

// ParseSlots is the reverse of Slots. Parsing stops at the first all-zero slot.
func ParseSlots(slots [frame.RouteSlots][frame.NameLen]byte) (Chain, error) {
	var c Chain
	for i := 0; i < MaxHops; i++ {
		s, err := frame.Text(slots[i][:])
		if err != nil {
			return Chain{}, err
		}
		if s == "" {
			break
		}
		if s == StopMarker {
			c.entries = append(c.entries, Stop())
			continue
		}
		c.entries = append(c.entries, Hop(s))
	}
	q, err := frame.Text(slots[frame.RouteSlots-1][:])
	if err != nil {
		return Chain{}, err
	}
	c.queue = q
	return c, nil
}

// Builder accumulates entries and a queue name.
type Builder struct {
	entries []Entry
	queue   string
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(e Entry) *Builder {
	b.entries = append(b.entries, e)
	return b
}

func (b *Builder) Queue(name string) *Builder {
	b.queue = name
	return b
}

// Build returns a chain addressed to a queue. Entries past MaxHops are
// dropped without error.
func (b *Builder) Build() (Chain, error) {
	if b.queue == "" {
		return Chain{}, ErrMissingQueue
	}
	return b.build()
}

// BuildPath returns a chain with no destination queue. Declaration commands
// use it when the object name travels in the payload.
func (b *Builder) BuildPath() (Chain, error) {
	return b.build()
}

func (b *Builder) build() (Chain, error) {
	n := len(b.entries)
	if n > MaxHops {
		n = MaxHops
	}
	entries := make([]Entry, n)
	copy(entries, b.entries[:n])
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return Chain{}, err
		}
	}
	if len(b.queue) > frame.NameLen {
		return Chain{}, fmt.Errorf("%w: queue %q", frame.ErrTextTooLong, b.queue)
	}
	return Chain{entries: entries, queue: b.queue}, nil
}

// Through is shorthand for a queue chain built from entries.
func Through(queue string, entries ...Entry) (Chain, error) {
	b := NewBuilder().Queue(queue)
	for _, e := range entries {
		b.Add(e)
	}
	return b.Build()
}
