package session

import (
	"context"
	"sync/atomic"

	"github.com/danmuck/hopmq/internal/protocol/builder"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
)

// Channel is a named handle into a session. It never touches the
// connection; every call is a request to the session actor.
type Channel struct {
	s      *Session
	name   string
	b      builder.Builder
	closed atomic.Bool
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Host() string { return c.b.Host() }

// Builder returns a frame builder stamped with this channel's identity.
func (c *Channel) Builder() builder.Builder { return c.b }

func (c *Channel) Closed() bool { return c.closed.Load() }

func (c *Channel) Send(ctx context.Context, data []byte) error {
	return c.s.Send(ctx, c.name, data)
}

func (c *Channel) SendFrame(ctx context.Context, f frame.Frame) error {
	return c.Send(ctx, f.Encode())
}

func (c *Channel) Read(ctx context.Context) (*frame.Frame, error) {
	return c.s.Read(ctx, c.name)
}

func (c *Channel) SendAndRead(ctx context.Context, data []byte) (*frame.Frame, error) {
	return c.s.SendAndRead(ctx, c.name, data)
}

func (c *Channel) SendFrameAndRead(ctx context.Context, f frame.Frame) (*frame.Frame, error) {
	return c.SendAndRead(ctx, f.Encode())
}

// Close sends the close handshake frame once. Later operations, including a
// second Close, return ErrChannelClosed.
func (c *Channel) Close(ctx context.Context) error {
	return c.s.closeChannel(ctx, c.name)
}

// Command sends an administrative frame for the named object. Commands are
// fire-and-forget; the broker does not answer them.
func (c *Channel) Command(ctx context.Context, op frame.CommandOp, rt frame.RoutingType, chain routing.Chain, name string) error {
	f, err := c.b.Declare(op, rt, chain, name)
	if err != nil {
		return err
	}
	return c.SendFrame(ctx, f)
}

func (c *Channel) DeclareExchange(ctx context.Context, name string, chain routing.Chain) error {
	return c.Command(ctx, frame.NewExchange, frame.Direct, chain, name)
}

func (c *Channel) DeclareQueue(ctx context.Context, name string, chain routing.Chain) error {
	return c.Command(ctx, frame.NewQueue, frame.Direct, chain, name)
}

// DeclareBinding binds queue to the exchange named by the last hop of chain.
func (c *Channel) DeclareBinding(ctx context.Context, queue string, chain routing.Chain) error {
	return c.Command(ctx, frame.NewBinding, frame.Direct, chain, queue)
}

func (c *Channel) DropExchange(ctx context.Context, name string, chain routing.Chain) error {
	return c.Command(ctx, frame.DropExchange, frame.Direct, chain, name)
}

func (c *Channel) DropQueue(ctx context.Context, name string, chain routing.Chain) error {
	return c.Command(ctx, frame.DropQueue, frame.Direct, chain, name)
}

func (c *Channel) DropBinding(ctx context.Context, queue string, chain routing.Chain) error {
	return c.Command(ctx, frame.DropBinding, frame.Direct, chain, queue)
}
