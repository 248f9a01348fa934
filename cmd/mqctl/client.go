package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/hopmq/internal/config"
	"github.com/danmuck/hopmq/internal/observability"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/danmuck/hopmq/internal/queue"
)

// client is one session plus the configured default channel and route.
type client struct {
	cfg  config.ClientConfig
	sess *session.Session
	ch   *session.Channel
}

func connect(ctx context.Context, cfg config.ClientConfig) (*client, error) {
	sess, err := session.Dial(ctx, cfg.ToSessionConfig(),
		session.WithObserver(observability.NewSessionMetrics("mqctl")))
	if err != nil {
		return nil, err
	}
	ch, err := sess.CreateChannel(ctx, cfg.Channel)
	if err != nil {
		_ = sess.Close(ctx)
		return nil, err
	}
	return &client{cfg: cfg, sess: sess, ch: ch}, nil
}

func (c *client) sessions() []*session.Session {
	return []*session.Session{c.sess}
}

func (c *client) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.sess.Close(ctx)
}

// chain routes through exchange (when set) and stops before queue.
func chain(exchange, queueName string) (routing.Chain, error) {
	b := routing.NewBuilder()
	if exchange != "" {
		b.Add(routing.Hop(exchange))
	}
	return b.Add(routing.Stop()).Queue(queueName).Build()
}

func path(exchange string) (routing.Chain, error) {
	b := routing.NewBuilder()
	if exchange != "" {
		b.Add(routing.Hop(exchange))
	}
	return b.Add(routing.Stop()).BuildPath()
}

func (c *client) queueOn(ch *session.Channel, exchange, queueName string) (*queue.Queue, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name required")
	}
	chn, err := chain(exchange, queueName)
	if err != nil {
		return nil, err
	}
	return queue.New(ch, chn)
}

// declareRoute declares the configured exchange and a queue bound to it.
func (c *client) declareRoute(ctx context.Context, ch *session.Channel, exchange, queueName string) error {
	excPath, err := path("")
	if err != nil {
		return err
	}
	if exchange != "" {
		if err := ch.DeclareExchange(ctx, exchange, excPath); err != nil {
			return err
		}
	}
	qPath, err := path(exchange)
	if err != nil {
		return err
	}
	return ch.DeclareQueue(ctx, queueName, qPath)
}
