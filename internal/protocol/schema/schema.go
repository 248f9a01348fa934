package schema

import (
	"fmt"

	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Field names one required piece of a frame intent.
type Field string

const (
	FieldKind    Field = "kind"
	FieldSubtype Field = "subtype"
	FieldRouting Field = "routing_type"
	FieldQueue   Field = "queue"
)

// Intent is the subset of a frame intent that the requirement table checks.
// Admin frames carry a command token and no route, so they skip FieldQueue.
type Intent struct {
	Mod      frame.RoutingMod
	HasQueue bool
	Admin    bool
}

type ValidationError struct {
	Kind   frame.DataKind
	Field  Field
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: kind=%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%s field=%s: %s", e.Kind, e.Field, e.Reason)
}

var requirements = map[frame.DataKind][]Field{
	frame.KindMessage: {FieldSubtype, FieldRouting, FieldQueue},
	frame.KindCommand: {FieldSubtype, FieldRouting},
}

// Requirements returns the required fields for kind in check order.
func Requirements(kind frame.DataKind) []Field {
	reqs := requirements[kind]
	out := make([]Field, len(reqs))
	copy(out, reqs)
	return out
}

// Validate reports the first missing required field for in.Mod.Kind.
func Validate(in Intent) error {
	reqs, ok := requirements[in.Mod.Kind]
	if !ok {
		log.Error().Str("kind", in.Mod.Kind.String()).Msg("schema.Validate unknown kind")
		return ValidationError{Kind: in.Mod.Kind, Field: FieldKind, Reason: "missing data kind"}
	}
	for _, f := range reqs {
		if f == FieldQueue && in.Admin {
			continue
		}
		if present(in, f) {
			continue
		}
		log.Debug().
			Str("kind", in.Mod.Kind.String()).
			Str("field", string(f)).
			Msg("schema.Validate missing field")
		return ValidationError{Kind: in.Mod.Kind, Field: f, Reason: "missing required field"}
	}
	return nil
}

func present(in Intent, f Field) bool {
	switch f {
	case FieldSubtype:
		if in.Mod.Kind == frame.KindMessage {
			return in.Mod.Message != frame.MessageUnset
		}
		return in.Mod.Command != frame.CommandUnset
	case FieldRouting:
		return in.Mod.Routing != frame.RoutingUnset
	case FieldQueue:
		return in.HasQueue
	case FieldKind:
		return in.Mod.Kind != frame.KindUnset
	}
	return false
}
