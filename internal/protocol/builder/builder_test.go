package builder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/danmuck/hopmq/internal/protocol/schema"
	"github.com/danmuck/hopmq/internal/testutil/testlog"
)

func mustBuilder(t *testing.T) Builder {
	t.Helper()
	b, err := New("MQ_HOST", "MQ_CHANNEL")
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return b
}

func baseChain(t *testing.T) routing.Chain {
	t.Helper()
	c, err := routing.Through("base_queue", routing.Hop("base_exc"), routing.Stop())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	return c
}

func TestPushFrameLayout(t *testing.T) {
	testlog.Start(t)

	b := mustBuilder(t)
	f, err := b.Push(frame.Direct, baseChain(t), []byte("hello world 1"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	wire := f.Encode()
	if len(wire) != frame.HeaderLen+frame.SliceUnit {
		t.Fatalf("wire len=%d", len(wire))
	}
	h, err := frame.DecodeHeader(wire[:frame.HeaderLen])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.RoutingMod != [4]byte{0, 0, 0, 0} {
		t.Fatalf("routing_mod=%v", h.RoutingMod)
	}
	if h.Version != frame.Version {
		t.Fatalf("version=%v", h.Version)
	}
	if h.SliceCount != 1 || h.SliceSize != frame.SliceUnit {
		t.Fatalf("slices=%d/%d", h.SliceCount, h.SliceSize)
	}
	if h.Command != [frame.CommandLen]byte{} {
		t.Fatalf("command field should be zero for messages")
	}
	if host, _ := h.VirtualHostName(); host != "MQ_HOST" {
		t.Fatalf("host=%q", host)
	}
	if q, _ := h.QueueName(); q != "base_queue" {
		t.Fatalf("queue=%q", q)
	}
	if !bytes.Equal(frame.TrimPayload(wire[frame.HeaderLen:]), []byte("hello world 1")) {
		t.Fatalf("payload mismatch")
	}
}

func TestPayloadPaddingBoundaries(t *testing.T) {
	testlog.Start(t)

	b := mustBuilder(t)
	for in, want := range map[int]uint32{255: 256, 256: 256, 257: 512} {
		f, err := b.Push(frame.Fanout, baseChain(t), bytes.Repeat([]byte{'x'}, in))
		if err != nil {
			t.Fatalf("push %d: %v", in, err)
		}
		if f.Header.SliceCount != 1 || f.Header.SliceSize != want {
			t.Fatalf("len %d: slices=%d/%d want 1/%d", in, f.Header.SliceCount, f.Header.SliceSize, want)
		}
		if uint64(len(f.Payload)) != f.Header.PayloadLen() {
			t.Fatalf("len %d: payload len %d", in, len(f.Payload))
		}
	}
}

func TestFetchCarriesNoPayload(t *testing.T) {
	testlog.Start(t)

	f, err := mustBuilder(t).Fetch(frame.Direct, baseChain(t))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if f.Header.RoutingMod != [4]byte{0, 1, 0, 0} {
		t.Fatalf("routing_mod=%v", f.Header.RoutingMod)
	}
	if len(f.Payload) != 0 || f.Header.SliceCount != 0 {
		t.Fatalf("fetch should carry no payload: %+v", f.Header)
	}
}

func TestMessageWithoutQueueRejected(t *testing.T) {
	testlog.Start(t)

	path, err := routing.NewBuilder().Add(routing.Stop()).BuildPath()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	_, err = mustBuilder(t).Fetch(frame.Direct, path)
	var ve schema.ValidationError
	if !errors.As(err, &ve) || ve.Field != schema.FieldQueue {
		t.Fatalf("expected missing queue error, got %v", err)
	}
}

func TestMissingRoutingTypeRejected(t *testing.T) {
	testlog.Start(t)

	_, err := mustBuilder(t).Build(Intent{Kind: frame.KindMessage, Message: frame.Push, Chain: baseChain(t)})
	var ve schema.ValidationError
	if !errors.As(err, &ve) || ve.Field != schema.FieldRouting {
		t.Fatalf("expected missing routing type, got %v", err)
	}
}

func TestDeclareExchangeUsesPathChain(t *testing.T) {
	testlog.Start(t)

	path, err := routing.NewBuilder().Add(routing.Stop()).BuildPath()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	f, err := mustBuilder(t).Declare(frame.NewExchange, frame.Direct, path, "base_exc")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if f.Header.RoutingMod != [4]byte{1, 1, 0, 0} {
		t.Fatalf("routing_mod=%v", f.Header.RoutingMod)
	}
	if f.Header.Route[0][0] != '!' {
		t.Fatalf("slot0 should be stop")
	}
	if string(frame.TrimPayload(f.Payload)) != "base_exc" {
		t.Fatalf("payload=%q", f.Payload)
	}
	if _, err := mustBuilder(t).Declare(frame.NewQueue, frame.Direct, path, ""); err == nil {
		t.Fatalf("expected empty name error")
	}
}

func TestCloseChannelFrame(t *testing.T) {
	testlog.Start(t)

	f, err := mustBuilder(t).CloseChannel()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !IsClose(f.Header) {
		t.Fatalf("expected close token")
	}
	if tok, _ := f.Header.CommandToken(); tok != "CLOSE-CH" {
		t.Fatalf("token=%q", tok)
	}
	if f.Header.RoutingMod != [4]byte{0, 0xF, 0, 0} {
		t.Fatalf("routing_mod=%v want message nop direct", f.Header.RoutingMod)
	}
	if mod := f.Header.Mod(); mod.Kind != frame.KindMessage || mod.Message != frame.MessageNop || mod.Routing != frame.Direct {
		t.Fatalf("decoded mod=%+v", mod)
	}
	if f.Header.Route != [frame.RouteSlots][frame.NameLen]byte{} || len(f.Payload) != 0 {
		t.Fatalf("close frame should carry no route and no payload")
	}
}

func TestUnknownAdminCommandSerializesAsZero(t *testing.T) {
	testlog.Start(t)

	f, err := mustBuilder(t).Build(Intent{
		Kind:    frame.KindCommand,
		Command: frame.CommandNop,
		Routing: frame.RoutingNop,
		Admin:   AdminCommand("REBOOT"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if f.Header.Command != [frame.CommandLen]byte{} {
		t.Fatalf("unknown command should be all-zero")
	}
	if ParseAdminCommand("REBOOT") != NoCommand {
		t.Fatalf("unknown token should parse to NoCommand")
	}
}

func TestNewRejectsBadIdentity(t *testing.T) {
	testlog.Start(t)
	if _, err := New("MQ_HOST", "channel-name-that-is-definitely-too-long"); !errors.Is(err, frame.ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
}
