package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/testutil/testlog"
)

func TestValidateMessageRequiredFields(t *testing.T) {
	testlog.Start(t)
	in := Intent{
		Mod:      frame.RoutingMod{Kind: frame.KindMessage, Message: frame.Push, Routing: frame.Direct},
		HasQueue: true,
	}
	if err := Validate(in); err != nil {
		t.Fatalf("validate push: %v", err)
	}
}

func TestValidateCommandDoesNotNeedQueue(t *testing.T) {
	testlog.Start(t)
	in := Intent{Mod: frame.RoutingMod{Kind: frame.KindCommand, Command: frame.NewExchange, Routing: frame.Direct}}
	if err := Validate(in); err != nil {
		t.Fatalf("validate new exchange: %v", err)
	}
}

func TestValidateAdminMessageDoesNotNeedQueue(t *testing.T) {
	testlog.Start(t)
	mod := frame.RoutingMod{Kind: frame.KindMessage, Message: frame.MessageNop, Routing: frame.Direct}
	if err := Validate(Intent{Mod: mod, Admin: true}); err != nil {
		t.Fatalf("validate admin message: %v", err)
	}
	var ve ValidationError
	if err := Validate(Intent{Mod: mod}); !errors.As(err, &ve) || ve.Field != FieldQueue {
		t.Fatalf("non-admin message without queue: %v", err)
	}
}

func TestValidateReportsFirstMissingField(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		in   Intent
		want Field
	}{
		{"no kind", Intent{}, FieldKind},
		{"message no subtype", Intent{Mod: frame.RoutingMod{Kind: frame.KindMessage}}, FieldSubtype},
		{"message no routing", Intent{Mod: frame.RoutingMod{Kind: frame.KindMessage, Message: frame.Fetch}}, FieldRouting},
		{"message no queue", Intent{Mod: frame.RoutingMod{Kind: frame.KindMessage, Message: frame.Fetch, Routing: frame.Topic}}, FieldQueue},
		{"command no subtype", Intent{Mod: frame.RoutingMod{Kind: frame.KindCommand, Routing: frame.Direct}}, FieldSubtype},
		{"command no routing", Intent{Mod: frame.RoutingMod{Kind: frame.KindCommand, Command: frame.DropQueue}}, FieldRouting},
	}
	for _, tc := range cases {
		err := Validate(tc.in)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Field != tc.want {
			t.Fatalf("%s: field=%s want %s", tc.name, ve.Field, tc.want)
		}
	}
}

func TestRequirementsReturnsCopy(t *testing.T) {
	testlog.Start(t)
	reqs := Requirements(frame.KindMessage)
	reqs[0] = FieldKind
	if Requirements(frame.KindMessage)[0] != FieldSubtype {
		t.Fatalf("requirements table mutated through returned slice")
	}
}
