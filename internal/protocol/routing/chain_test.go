package routing

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/testutil/testlog"
)

func TestBuildTruncatesPastThreeEntries(t *testing.T) {
	testlog.Start(t)

	c, err := NewBuilder().
		Add(Hop("a")).Add(Hop("b")).Add(Hop("c")).Add(Hop("d")).Add(Wildcard()).
		Queue("q").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := c.Entries()
	if len(got) != MaxHops {
		t.Fatalf("entries=%d want %d", len(got), MaxHops)
	}
	for i, name := range []string{"a", "b", "c"} {
		if got[i] != Hop(name) {
			t.Fatalf("entry %d=%+v", i, got[i])
		}
	}
}

func TestSingleEntryBackfillsEmptySlots(t *testing.T) {
	testlog.Start(t)

	c, err := Through("base_queue", Hop("base_exc"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	slots, err := c.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	var zero [frame.NameLen]byte
	if slots[1] != zero || slots[2] != zero {
		t.Fatalf("trailing slots must be all-zero, got %q %q", slots[1], slots[2])
	}
	if s, _ := frame.Text(slots[0][:]); s != "base_exc" {
		t.Fatalf("slot0=%q", s)
	}
	if s, _ := frame.Text(slots[3][:]); s != "base_queue" {
		t.Fatalf("queue slot=%q", s)
	}
}

func TestStopSerializesAsMarker(t *testing.T) {
	testlog.Start(t)

	c, err := Through("base_queue", Hop("base_exc"), Stop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	slots, err := c.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if slots[1][0] != '!' {
		t.Fatalf("stop slot first byte=%#x", slots[1][0])
	}
	for i := 1; i < frame.NameLen; i++ {
		if slots[1][i] != 0 {
			t.Fatalf("stop slot byte %d not zero", i)
		}
	}
	var zero [frame.NameLen]byte
	if slots[2] != zero {
		t.Fatalf("slot2 should be empty, not stop")
	}
}

func TestBuildRequiresQueue(t *testing.T) {
	testlog.Start(t)
	if _, err := NewBuilder().Add(Stop()).Build(); !errors.Is(err, ErrMissingQueue) {
		t.Fatalf("expected ErrMissingQueue, got %v", err)
	}
	c, err := NewBuilder().Add(Stop()).BuildPath()
	if err != nil {
		t.Fatalf("build path: %v", err)
	}
	if c.HasQueue() {
		t.Fatalf("path chain should have no queue")
	}
}

func TestBuildRejectsWildcardAndBadHops(t *testing.T) {
	testlog.Start(t)

	if _, err := Through("q", Wildcard()); !errors.Is(err, ErrWildcardUnsupported) {
		t.Fatalf("expected ErrWildcardUnsupported, got %v", err)
	}
	if _, err := Through("q", Hop("")); !errors.Is(err, ErrEmptyHop) {
		t.Fatalf("expected ErrEmptyHop, got %v", err)
	}
	if _, err := Through("q", Hop(strings.Repeat("h", frame.NameLen+1))); !errors.Is(err, frame.ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
	if _, err := Through(strings.Repeat("q", frame.NameLen+1)); !errors.Is(err, frame.ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong for queue, got %v", err)
	}
}

func TestZeroChainWithWildcardFailsAtSlots(t *testing.T) {
	testlog.Start(t)
	c := Chain{entries: []Entry{Wildcard()}, queue: "q"}
	if _, err := c.Slots(); !errors.Is(err, ErrWildcardUnsupported) {
		t.Fatalf("expected ErrWildcardUnsupported, got %v", err)
	}
}

func TestParseSlotsRoundTrip(t *testing.T) {
	testlog.Start(t)

	in, err := Through("base_queue", Hop("base_exc"), Stop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	slots, err := in.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	out, err := ParseSlots(slots)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.String() != in.String() {
		t.Fatalf("round trip got=%s want=%s", out, in)
	}
	if out.String() != "base_exc/!/base_queue" {
		t.Fatalf("unexpected chain text %s", out)
	}
}
