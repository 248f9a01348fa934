package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/hopmq/internal/config"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/queue"
)

func dispatch(ctx context.Context, c *client, args []string, out io.Writer) error {
	switch args[0] {
	case "declare":
		return runDeclare(ctx, c, args[1:], out)
	case "push":
		return runPush(ctx, c, args[1:], out)
	case "fetch":
		return runFetch(ctx, c, args[1:], out)
	case "demo":
		return runDemo(ctx, c, args[1:], out)
	case "mpsc":
		return runMPSC(ctx, c, args[1:], out)
	}
	return fmt.Errorf("unknown subcommand %q: %w", args[0], errUsage)
}

// declare exchange NAME [-type direct|topic|fanout]
// declare queue NAME [-exchange EXC]
// declare binding QUEUE EXC
func runDeclare(ctx context.Context, c *client, args []string, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("declare: want <exchange|queue|binding> <name>")
	}
	what, name := args[0], args[1]
	fs := flag.NewFlagSet("declare "+what, flag.ContinueOnError)
	fs.SetOutput(out)
	kind := fs.String("type", "direct", "exchange type")
	exchange := fs.String("exchange", "", "exchange the queue is bound to")

	switch what {
	case "exchange":
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		rt, err := config.ParseRoutingType(*kind)
		if err != nil {
			return err
		}
		p, err := path("")
		if err != nil {
			return err
		}
		if err := c.ch.Command(ctx, frame.NewExchange, rt, p, name); err != nil {
			return err
		}
	case "queue":
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		p, err := path(*exchange)
		if err != nil {
			return err
		}
		if err := c.ch.DeclareQueue(ctx, name, p); err != nil {
			return err
		}
	case "binding":
		if len(args) < 3 {
			return fmt.Errorf("declare binding: want <queue> <exchange>")
		}
		p, err := path(args[2])
		if err != nil {
			return err
		}
		if err := c.ch.DeclareBinding(ctx, name, p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("declare: unknown object %q", what)
	}
	fmt.Fprintf(out, "declared %s %s\n", what, name)
	return nil
}

func routeFlags(fs *flag.FlagSet, c *client) (*string, *string) {
	exchange := fs.String("exchange", c.cfg.Route.Exchange, "exchange hop")
	queueName := fs.String("queue", c.cfg.Route.Queue, "target queue")
	return exchange, queueName
}

// push [-exchange EXC] [-queue Q] MESSAGE...
func runPush(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(out)
	exchange, queueName := routeFlags(fs, c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("push: message required")
	}
	q, err := c.queueOn(c.ch, *exchange, *queueName)
	if err != nil {
		return err
	}
	msg := strings.Join(fs.Args(), " ")
	if err := q.PushString(ctx, msg); err != nil {
		return err
	}
	fmt.Fprintf(out, "pushed %d bytes to %s\n", len(msg), q.Chain())
	return nil
}

// fetch [-exchange EXC] [-queue Q] [-n COUNT] [-retry ATTEMPTS]
func runFetch(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(out)
	exchange, queueName := routeFlags(fs, c)
	count := fs.Int("n", 1, "messages to fetch")
	retry := fs.Int("retry", 1, "attempts per message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := c.queueOn(c.ch, *exchange, *queueName)
	if err != nil {
		return err
	}
	for i := 0; i < *count; i++ {
		res := q.FetchRetry(ctx, *retry, c.cfg.Session.Backoff)
		switch res.Outcome {
		case queue.Success:
			sr := res.Text()
			if sr.Outcome != queue.Success {
				fmt.Fprintf(out, "(%d bytes, %s)\n", len(res.Data), sr.Outcome)
				continue
			}
			fmt.Fprintln(out, sr.Text)
		case queue.NoItem, queue.Empty:
			fmt.Fprintf(out, "(%s)\n", res.Outcome)
			return nil
		default:
			return fmt.Errorf("fetch: %s: %w", res.Outcome, res.Err)
		}
	}
	return nil
}
