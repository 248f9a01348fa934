package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/danmuck/hopmq/internal/queue"
	"github.com/rs/zerolog/log"
)

// demo [-n COUNT]: declare the configured route, push COUNT messages and
// fetch them back in order.
func runDemo(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(out)
	count := fs.Int("n", 99, "messages to round trip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	exchange, queueName := c.cfg.Route.Exchange, c.cfg.Route.Queue
	if err := c.declareRoute(ctx, c.ch, exchange, queueName); err != nil {
		return fmt.Errorf("demo: declare: %w", err)
	}
	q, err := c.queueOn(c.ch, exchange, queueName)
	if err != nil {
		return err
	}

	for i := 1; i <= *count; i++ {
		if err := q.PushString(ctx, fmt.Sprintf("hello world %d", i)); err != nil {
			return fmt.Errorf("demo: push %d: %w", i, err)
		}
	}
	for i := 1; i <= *count; i++ {
		want := fmt.Sprintf("hello world %d", i)
		res := q.FetchSimpleString(ctx)
		if res.Outcome != queue.Success {
			return fmt.Errorf("demo: fetch %d: %s: %v", i, res.Outcome, res.Err)
		}
		if res.Text != want {
			return fmt.Errorf("demo: fetch %d: got %q want %q", i, res.Text, want)
		}
		fmt.Fprintln(out, res.Text)
	}
	fmt.Fprintf(out, "demo ok: %d messages through %s\n", *count, q.Chain())
	return nil
}

type mpscReport struct {
	perProducer map[string]int
	total       int
}

// mpsc [-n COUNT] [-interval DUR]: two producer channels and one consumer
// channel share the session. The consumer stops once it has seen every
// produced message or ctx ends.
func runMPSC(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mpsc", flag.ContinueOnError)
	fs.SetOutput(out)
	count := fs.Int("n", 10, "messages per producer")
	interval := fs.Duration("interval", 20*time.Millisecond, "delay between pushes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := mpsc(ctx, c, *count, *interval)
	if err != nil {
		return err
	}
	for _, name := range []string{"producer-a", "producer-b"} {
		fmt.Fprintf(out, "%s: %d\n", name, report.perProducer[name])
	}
	fmt.Fprintf(out, "mpsc ok: %d messages\n", report.total)
	return nil
}

func mpsc(ctx context.Context, c *client, count int, interval time.Duration) (mpscReport, error) {
	exchange, queueName := c.cfg.Route.Exchange, c.cfg.Route.Queue
	if err := c.declareRoute(ctx, c.ch, exchange, queueName); err != nil {
		return mpscReport{}, fmt.Errorf("mpsc: declare: %w", err)
	}

	second, err := c.sess.CreateChannel(ctx, c.cfg.Channel+"2")
	if err != nil {
		return mpscReport{}, err
	}
	defer second.Close(ctx)
	reader, err := c.sess.CreateChannel(ctx, c.cfg.Channel+"_R")
	if err != nil {
		return mpscReport{}, err
	}
	defer reader.Close(ctx)

	producers := map[string]*queue.Queue{}
	for name, ch := range map[string]*session.Channel{"producer-a": c.ch, "producer-b": second} {
		q, err := c.queueOn(ch, exchange, queueName)
		if err != nil {
			return mpscReport{}, err
		}
		producers[name] = q
	}
	consumer, err := c.queueOn(reader, exchange, queueName)
	if err != nil {
		return mpscReport{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(producers))
	for name, q := range producers {
		wg.Add(1)
		go func(name string, q *queue.Queue) {
			defer wg.Done()
			for i := 0; i < count; i++ {
				if err := q.PushString(ctx, fmt.Sprintf("%s: %d", name, i)); err != nil {
					errCh <- fmt.Errorf("mpsc: %s push %d: %w", name, i, err)
					cancel()
					return
				}
				log.Debug().Str("producer", name).Int("seq", i).Msg("pushed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
		}(name, q)
	}

	report := mpscReport{perProducer: map[string]int{}}
	err = consume(ctx, consumer, c.cfg.Session.Backoff, count*len(producers), &report)
	cancel()
	wg.Wait()
	select {
	case perr := <-errCh:
		return report, perr
	default:
	}
	return report, err
}

func consume(ctx context.Context, q *queue.Queue, backoff session.BackoffConfig, want int, report *mpscReport) error {
	for report.total < want {
		res := q.FetchRetry(ctx, 0, backoff)
		if res.Outcome != queue.Success {
			return fmt.Errorf("mpsc: fetch after %d: %s: %v", report.total, res.Outcome, res.Err)
		}
		text := res.Text().Text
		name, _, ok := strings.Cut(text, ": ")
		if !ok {
			return fmt.Errorf("mpsc: unexpected message %q", text)
		}
		report.perProducer[name]++
		report.total++
	}
	return nil
}
