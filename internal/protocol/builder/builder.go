// Package builder turns frame intents into wire-ready frames for one
// (virtual host, channel) identity.
package builder

import (
	"fmt"

	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/danmuck/hopmq/internal/protocol/schema"
)

// AdminCommand is a mnemonic carried in the 24-byte command field.
type AdminCommand string

const (
	NoCommand    AdminCommand = ""
	CloseChannel AdminCommand = "CLOSE-CH"
)

var knownCommands = map[AdminCommand]struct{}{
	CloseChannel: {},
}

// Known reports whether c is a recognized administrative token.
func (c AdminCommand) Known() bool {
	_, ok := knownCommands[c]
	return ok
}

// ParseAdminCommand maps a decoded command field back to a token.
// Unrecognized text maps to NoCommand.
func ParseAdminCommand(s string) AdminCommand {
	c := AdminCommand(s)
	if c.Known() {
		return c
	}
	return NoCommand
}

// Intent describes one frame before encoding.
type Intent struct {
	Kind    frame.DataKind
	Message frame.MessageOp
	Command frame.CommandOp
	Routing frame.RoutingType
	Chain   routing.Chain
	Admin   AdminCommand
	Payload []byte
}

func (in Intent) mod() frame.RoutingMod {
	return frame.RoutingMod{Kind: in.Kind, Message: in.Message, Command: in.Command, Routing: in.Routing}
}

// Builder stamps a fixed host and channel onto every frame it builds.
type Builder struct {
	host    string
	channel string
	hostRaw [frame.NameLen]byte
	chanRaw [frame.NameLen]byte
}

func New(host, channel string) (Builder, error) {
	b := Builder{host: host, channel: channel}
	if err := frame.PutText(b.hostRaw[:], host); err != nil {
		return Builder{}, fmt.Errorf("builder: virtual host: %w", err)
	}
	if err := frame.PutText(b.chanRaw[:], channel); err != nil {
		return Builder{}, fmt.Errorf("builder: channel: %w", err)
	}
	return b, nil
}

func (b Builder) Host() string    { return b.host }
func (b Builder) Channel() string { return b.channel }

// Header returns the encoded header for in without sealing a payload.
func (b Builder) Header(in Intent) (frame.Header, error) {
	mod := in.mod()
	if err := schema.Validate(schema.Intent{Mod: mod, HasQueue: in.Chain.HasQueue(), Admin: in.Admin.Known()}); err != nil {
		return frame.Header{}, err
	}
	raw, err := mod.Bytes()
	if err != nil {
		return frame.Header{}, err
	}
	slots, err := in.Chain.Slots()
	if err != nil {
		return frame.Header{}, err
	}
	h := frame.Header{
		VirtualHost: b.hostRaw,
		Channel:     b.chanRaw,
		Version:     frame.Version,
		RoutingMod:  raw,
		Route:       slots,
	}
	if in.Admin.Known() {
		if err := frame.PutText(h.Command[:], string(in.Admin)); err != nil {
			return frame.Header{}, err
		}
	}
	return h, nil
}

// Build validates in and returns a sealed frame: payload padded to a
// multiple of frame.SliceUnit and carried as a single slice.
func (b Builder) Build(in Intent) (frame.Frame, error) {
	h, err := b.Header(in)
	if err != nil {
		return frame.Frame{}, err
	}
	payload := make([]byte, len(in.Payload))
	copy(payload, in.Payload)
	return frame.Frame{Header: h, Payload: payload}.Seal(), nil
}

// Encode is Build followed by frame encoding.
func (b Builder) Encode(in Intent) ([]byte, error) {
	f, err := b.Build(in)
	if err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

func (b Builder) Push(rt frame.RoutingType, chain routing.Chain, payload []byte) (frame.Frame, error) {
	return b.Build(Intent{
		Kind:    frame.KindMessage,
		Message: frame.Push,
		Routing: rt,
		Chain:   chain,
		Payload: payload,
	})
}

func (b Builder) Fetch(rt frame.RoutingType, chain routing.Chain) (frame.Frame, error) {
	return b.Build(Intent{
		Kind:    frame.KindMessage,
		Message: frame.Fetch,
		Routing: rt,
		Chain:   chain,
	})
}

// Declare builds a declaration or drop command. name travels as the payload.
func (b Builder) Declare(op frame.CommandOp, rt frame.RoutingType, chain routing.Chain, name string) (frame.Frame, error) {
	if name == "" {
		return frame.Frame{}, fmt.Errorf("builder: %s requires a name", op)
	}
	return b.Build(Intent{
		Kind:    frame.KindCommand,
		Command: op,
		Routing: rt,
		Chain:   chain,
		Payload: []byte(name),
	})
}

// CloseChannel builds the channel close handshake frame. Brokers key on the
// CLOSE-CH token; routing_mod is the plain message nop [0, 0xF, 0, 0].
func (b Builder) CloseChannel() (frame.Frame, error) {
	return b.Build(Intent{
		Kind:    frame.KindMessage,
		Message: frame.MessageNop,
		Routing: frame.Direct,
		Admin:   CloseChannel,
	})
}

// IsClose reports whether h carries the channel close token.
func IsClose(h frame.Header) bool {
	tok, err := h.CommandToken()
	return err == nil && AdminCommand(tok) == CloseChannel
}
