package frame

import "fmt"

// Wire codes carried in routing_mod. The Go enums below reserve their zero
// value for "unset" so validation can tell a missing field from code 0.
const (
	codeNop uint8 = 0xF
)

type DataKind uint8

const (
	KindUnset DataKind = iota
	KindMessage
	KindCommand
)

type MessageOp uint8

const (
	MessageUnset MessageOp = iota
	Push
	Fetch
	MessageNop
)

type CommandOp uint8

const (
	CommandUnset CommandOp = iota
	NewQueue
	NewExchange
	NewBinding
	DropQueue
	DropExchange
	DropBinding
	CommandNop
)

type RoutingType uint8

const (
	RoutingUnset RoutingType = iota
	Direct
	Topic
	Fanout
	RoutingNop
)

func (k DataKind) Code() (uint8, bool) {
	switch k {
	case KindMessage:
		return 0, true
	case KindCommand:
		return 1, true
	}
	return 0, false
}

func (k DataKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCommand:
		return "command"
	}
	return "unset"
}

func (o MessageOp) Code() (uint8, bool) {
	switch o {
	case Push:
		return 0, true
	case Fetch:
		return 1, true
	case MessageNop:
		return codeNop, true
	}
	return 0, false
}

func (o MessageOp) String() string {
	switch o {
	case Push:
		return "push"
	case Fetch:
		return "fetch"
	case MessageNop:
		return "nop"
	}
	return "unset"
}

func (o CommandOp) Code() (uint8, bool) {
	switch o {
	case NewQueue, NewExchange, NewBinding, DropQueue, DropExchange, DropBinding:
		return uint8(o - NewQueue), true
	case CommandNop:
		return codeNop, true
	}
	return 0, false
}

func (o CommandOp) String() string {
	switch o {
	case NewQueue:
		return "new_queue"
	case NewExchange:
		return "new_exchange"
	case NewBinding:
		return "new_binding"
	case DropQueue:
		return "drop_queue"
	case DropExchange:
		return "drop_exchange"
	case DropBinding:
		return "drop_binding"
	case CommandNop:
		return "nop"
	}
	return "unset"
}

func (t RoutingType) Code() (uint8, bool) {
	switch t {
	case Direct:
		return 0, true
	case Topic:
		return 1, true
	case Fanout:
		return 2, true
	case RoutingNop:
		return codeNop, true
	}
	return 0, false
}

func (t RoutingType) String() string {
	switch t {
	case Direct:
		return "direct"
	case Topic:
		return "topic"
	case Fanout:
		return "fanout"
	case RoutingNop:
		return "nop"
	}
	return "unset"
}

// RoutingMod is the decoded form of the 4-byte routing_mod field. Only the
// subtype matching Kind is meaningful.
type RoutingMod struct {
	Kind    DataKind
	Message MessageOp
	Command CommandOp
	Routing RoutingType
}

// Bytes encodes m. Unset fields make the mod unencodable.
func (m RoutingMod) Bytes() ([4]byte, error) {
	var out [4]byte
	kind, ok := m.Kind.Code()
	if !ok {
		return out, fmt.Errorf("frame: routing_mod kind unset")
	}
	out[0] = kind

	var sub uint8
	switch m.Kind {
	case KindMessage:
		sub, ok = m.Message.Code()
	case KindCommand:
		sub, ok = m.Command.Code()
	}
	if !ok {
		return out, fmt.Errorf("frame: routing_mod subtype unset for %s", m.Kind)
	}
	out[1] = sub

	rt, ok := m.Routing.Code()
	if !ok {
		return out, fmt.Errorf("frame: routing_mod routing type unset")
	}
	out[2] = rt
	return out, nil
}

// ParseRoutingMod decodes b. Unknown codes decode to the unset values.
func ParseRoutingMod(b [4]byte) RoutingMod {
	var m RoutingMod
	switch b[0] {
	case 0:
		m.Kind = KindMessage
		switch b[1] {
		case 0:
			m.Message = Push
		case 1:
			m.Message = Fetch
		case codeNop:
			m.Message = MessageNop
		}
	case 1:
		m.Kind = KindCommand
		switch {
		case b[1] <= 5:
			m.Command = NewQueue + CommandOp(b[1])
		case b[1] == codeNop:
			m.Command = CommandNop
		}
	}
	switch b[2] {
	case 0:
		m.Routing = Direct
	case 1:
		m.Routing = Topic
	case 2:
		m.Routing = Fanout
	case codeNop:
		m.Routing = RoutingNop
	}
	return m
}

func (h Header) Mod() RoutingMod {
	return ParseRoutingMod(h.RoutingMod)
}
