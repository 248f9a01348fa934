// Package queue is a push/fetch facade over one channel and routing chain.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danmuck/hopmq/internal/protocol/builder"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Conduit is the part of a session channel the facade needs.
type Conduit interface {
	Builder() builder.Builder
	SendFrame(ctx context.Context, f frame.Frame) error
	SendFrameAndRead(ctx context.Context, f frame.Frame) (*frame.Frame, error)
}

type Outcome uint8

const (
	Success Outcome = iota
	NoItem
	Empty
	NotText
	Error
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NoItem:
		return "no_item"
	case Empty:
		return "empty"
	case NotText:
		return "not_text"
	case Error:
		return "error"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// StatusError is a broker status other than success or no-item.
type StatusError struct {
	Code uint16
}

func (e StatusError) Error() string {
	return fmt.Sprintf("queue: broker status %#x", e.Code)
}

var ErrNotText = errors.New("queue: payload is not valid text")

// Result is the classified outcome of one fetch.
type Result struct {
	Outcome Outcome
	Header  *frame.Header
	Data    []byte
	Err     error
}

type StringResult struct {
	Outcome Outcome
	Header  *frame.Header
	Text    string
	Err     error
}

type Queue struct {
	ch      Conduit
	chain   routing.Chain
	routing frame.RoutingType
}

// New binds ch to chain. The chain must name a queue.
func New(ch Conduit, chain routing.Chain) (*Queue, error) {
	if !chain.HasQueue() {
		return nil, routing.ErrMissingQueue
	}
	return &Queue{ch: ch, chain: chain, routing: frame.Direct}, nil
}

// WithRouting returns a copy of q that stamps rt on its frames.
func (q *Queue) WithRouting(rt frame.RoutingType) *Queue {
	cp := *q
	cp.routing = rt
	return &cp
}

func (q *Queue) Chain() routing.Chain { return q.chain }

func (q *Queue) Name() string { return q.chain.Queue() }

func (q *Queue) Push(ctx context.Context, data []byte) error {
	f, err := q.ch.Builder().Push(q.routing, q.chain, data)
	if err != nil {
		return err
	}
	return q.ch.SendFrame(ctx, f)
}

func (q *Queue) PushString(ctx context.Context, s string) error {
	return q.Push(ctx, []byte(s))
}

// Fetch sends a fetch frame and returns whatever the channel reads back.
func (q *Queue) Fetch(ctx context.Context) (*frame.Frame, error) {
	f, err := q.ch.Builder().Fetch(q.routing, q.chain)
	if err != nil {
		return nil, err
	}
	return q.ch.SendFrameAndRead(ctx, f)
}

// FetchString is Fetch with the payload decoded as text.
func (q *Queue) FetchString(ctx context.Context) (*frame.Frame, string, error) {
	f, err := q.Fetch(ctx)
	if err != nil || f == nil {
		return f, "", err
	}
	s, ok := decodeText(f.Payload)
	if !ok {
		return f, "", ErrNotText
	}
	return f, s, nil
}

// FetchSimple collapses Fetch into Success, NoItem, Empty or Error.
func (q *Queue) FetchSimple(ctx context.Context) Result {
	f, err := q.Fetch(ctx)
	return classify(f, err)
}

func classify(f *frame.Frame, err error) Result {
	if err != nil {
		return Result{Outcome: Error, Err: err}
	}
	if f == nil {
		return Result{Outcome: Empty}
	}
	h := f.Header
	switch {
	case h.NoItem():
		return Result{Outcome: NoItem, Header: &h}
	case h.Errcode != 0:
		return Result{Outcome: Error, Header: &h, Err: StatusError{Code: h.Errcode}}
	case len(f.Payload) == 0:
		return Result{Outcome: Empty, Header: &h}
	}
	return Result{Outcome: Success, Header: &h, Data: f.Payload}
}

// FetchSimpleString adds NotText to the FetchSimple outcomes.
func (q *Queue) FetchSimpleString(ctx context.Context) StringResult {
	return toString(q.FetchSimple(ctx))
}

// Text converts r the way FetchSimpleString does.
func (r Result) Text() StringResult { return toString(r) }

func toString(r Result) StringResult {
	out := StringResult{Outcome: r.Outcome, Header: r.Header, Err: r.Err}
	if r.Outcome != Success {
		return out
	}
	s, ok := decodeText(r.Data)
	if !ok {
		out.Outcome = NotText
		out.Err = ErrNotText
		return out
	}
	out.Text = s
	return out
}

func decodeText(p []byte) (string, bool) {
	trimmed := frame.TrimPayload(p)
	if !utf8.Valid(trimmed) {
		return "", false
	}
	return strings.TrimSpace(string(trimmed)), true
}

// Retryable reports whether a fetch outcome means "nothing yet".
func (r Result) Retryable() bool {
	switch r.Outcome {
	case NoItem, Empty:
		return true
	case Error:
		return errors.Is(r.Err, session.ErrReadFailed)
	}
	return false
}

// FetchRetry calls FetchSimple until it yields something other than a
// retryable outcome, attempts run out, or ctx ends. attempts <= 0 retries
// until ctx ends.
func (q *Queue) FetchRetry(ctx context.Context, attempts int, backoff session.BackoffConfig) Result {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var last Result
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		last = q.FetchSimple(ctx)
		if !last.Retryable() {
			return last
		}
		log.Debug().
			Str("queue", q.Name()).
			Int("attempt", attempt).
			Str("outcome", last.Outcome.String()).
			Msg("fetch retry")
		if attempts > 0 && attempt == attempts {
			break
		}
		if err := session.SleepBackoff(ctx, backoff, attempt, rng); err != nil {
			return Result{Outcome: Error, Err: err}
		}
	}
	return last
}
