package devbroker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/danmuck/hopmq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBroker(t *testing.T, vhosts ...devbroker.VHostSpec) (*devbroker.Broker, string) {
	t.Helper()
	b, err := devbroker.New(devbroker.Config{Listen: "127.0.0.1:0", VHosts: vhosts})
	require.NoError(t, err)
	require.NoError(t, b.Listen())
	b.Serve()
	t.Cleanup(func() { _ = b.Close() })
	return b, b.Addr().String()
}

func dialSession(t *testing.T, addr string) *session.Session {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Address = addr
	cfg.ReadTimeout = 500 * time.Millisecond
	s, err := session.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func pending(b *devbroker.Broker, vhost, queue string) int {
	for _, v := range b.Stats() {
		if v.Name != vhost {
			continue
		}
		for _, q := range v.Queues {
			if q.Name == queue {
				return q.Pending
			}
		}
	}
	return -1
}

func baseChain(t *testing.T) routing.Chain {
	t.Helper()
	c, err := routing.Through("base_queue", routing.Hop("base_exc"), routing.Stop())
	require.NoError(t, err)
	return c
}

func declareBase(t *testing.T, ch *session.Channel) {
	t.Helper()
	ctx := context.Background()
	excPath, err := routing.NewBuilder().Add(routing.Stop()).BuildPath()
	require.NoError(t, err)
	require.NoError(t, ch.DeclareExchange(ctx, "base_exc", excPath))
	qPath, err := routing.NewBuilder().Add(routing.Hop("base_exc")).Add(routing.Stop()).BuildPath()
	require.NoError(t, err)
	require.NoError(t, ch.DeclareQueue(ctx, "base_queue", qPath))
}

func TestDeclarePushFetch(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	b, addr := setupTestBroker(t)
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "MQ_CHANNEL")
	require.NoError(t, err)

	declareBase(t, ch)
	chain := baseChain(t)
	for i := 1; i <= 3; i++ {
		f, err := ch.Builder().Push(frame.Direct, chain, []byte(fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
		require.NoError(t, ch.SendFrame(ctx, f))
	}
	require.Eventually(t, func() bool { return pending(b, "MQ_HOST", "base_queue") == 3 }, time.Second, 10*time.Millisecond)

	for i := 1; i <= 3; i++ {
		f, err := ch.Builder().Fetch(frame.Direct, chain)
		require.NoError(t, err)
		got, err := ch.SendFrameAndRead(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, uint16(0), got.Header.Errcode)
		assert.Equal(t, fmt.Sprintf("msg %d", i), string(frame.TrimPayload(got.Payload)))
		name, err := got.Header.ChannelName()
		require.NoError(t, err)
		assert.Equal(t, "MQ_CHANNEL", name, "broker must echo the channel name")
	}

	f, err := ch.Builder().Fetch(frame.Direct, chain)
	require.NoError(t, err)
	got, err := ch.SendFrameAndRead(ctx, f)
	require.NoError(t, err)
	assert.True(t, got.Header.NoItem(), "empty queue should answer with the no-item status")
	assert.Empty(t, got.Payload)
}

func TestFanoutDeliversToEveryBoundQueue(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	b, addr := setupTestBroker(t, devbroker.VHostSpec{
		Name:      "MQ_HOST",
		Exchanges: []devbroker.ExchangeSpec{{Name: "fan", Routing: frame.Fanout}},
		Queues: []devbroker.QueueSpec{
			{Name: "q1", Bindings: []string{"fan"}},
			{Name: "q2", Bindings: []string{"fan"}},
			{Name: "q3"},
		},
	})
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "")
	require.NoError(t, err)

	chain, err := routing.Through("q1", routing.Hop("fan"))
	require.NoError(t, err)
	f, err := ch.Builder().Push(frame.Fanout, chain, []byte("broadcast"))
	require.NoError(t, err)
	require.NoError(t, ch.SendFrame(ctx, f))

	require.Eventually(t, func() bool {
		return pending(b, "MQ_HOST", "q1") == 1 && pending(b, "MQ_HOST", "q2") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, pending(b, "MQ_HOST", "q3"))
}

func TestDirectPushRequiresBinding(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	b, addr := setupTestBroker(t, devbroker.VHostSpec{
		Name:      "MQ_HOST",
		Exchanges: []devbroker.ExchangeSpec{{Name: "ex"}},
		Queues:    []devbroker.QueueSpec{{Name: "loose"}, {Name: "bound", Bindings: []string{"ex"}}},
	})
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "A")
	require.NoError(t, err)

	for _, q := range []string{"loose", "bound"} {
		chain, err := routing.Through(q, routing.Hop("ex"))
		require.NoError(t, err)
		f, err := ch.Builder().Push(frame.Direct, chain, []byte("x"))
		require.NoError(t, err)
		require.NoError(t, ch.SendFrame(ctx, f))
	}
	require.Eventually(t, func() bool { return pending(b, "MQ_HOST", "bound") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, pending(b, "MQ_HOST", "loose"))

	unbound, err := routing.NewBuilder().Add(routing.Hop("ex")).BuildPath()
	require.NoError(t, err)
	require.NoError(t, ch.DeclareBinding(ctx, "loose", unbound))
	require.NoError(t, ch.DropBinding(ctx, "bound", unbound))
	require.Eventually(t, func() bool {
		for _, v := range b.Stats() {
			for _, ex := range v.Exchanges {
				if ex.Name == "ex" {
					return len(ex.Queues) == 1 && ex.Queues[0] == "loose"
				}
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestFetchUnknownQueueReportsStatus(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	_, addr := setupTestBroker(t)
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "A")
	require.NoError(t, err)

	chain, err := routing.Through("missing")
	require.NoError(t, err)
	f, err := ch.Builder().Fetch(frame.Direct, chain)
	require.NoError(t, err)
	got, err := ch.SendFrameAndRead(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, devbroker.StatusNoQueue, got.Header.Errcode)
}

func TestDropQueueAndExchange(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	b, addr := setupTestBroker(t)
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "A")
	require.NoError(t, err)
	declareBase(t, ch)
	require.Eventually(t, func() bool { return pending(b, "MQ_HOST", "base_queue") == 0 }, time.Second, 10*time.Millisecond)

	path, err := routing.NewBuilder().Add(routing.Stop()).BuildPath()
	require.NoError(t, err)
	require.NoError(t, ch.DropQueue(ctx, "base_queue", path))
	require.NoError(t, ch.DropExchange(ctx, "base_exc", path))
	require.Eventually(t, func() bool {
		stats := b.Stats()
		return len(stats) == 1 && len(stats[0].Queues) == 0 && len(stats[0].Exchanges) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestInterleavedChannelsDemux(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	_, addr := setupTestBroker(t, devbroker.VHostSpec{
		Name:   "MQ_HOST",
		Queues: []devbroker.QueueSpec{{Name: "qa"}, {Name: "qb"}},
	})
	s := dialSession(t, addr)
	a, err := s.CreateChannel(ctx, "A")
	require.NoError(t, err)
	bch, err := s.CreateChannel(ctx, "B")
	require.NoError(t, err)

	qa, err := routing.Through("qa")
	require.NoError(t, err)
	qb, err := routing.Through("qb")
	require.NoError(t, err)
	for _, c := range []struct {
		ch    *session.Channel
		chain routing.Chain
		body  string
	}{{a, qa, "for a"}, {bch, qb, "for b"}} {
		f, err := c.ch.Builder().Push(frame.Direct, c.chain, []byte(c.body))
		require.NoError(t, err)
		require.NoError(t, c.ch.SendFrame(ctx, f))
	}

	fa, err := a.Builder().Fetch(frame.Direct, qa)
	require.NoError(t, err)
	require.NoError(t, a.SendFrame(ctx, fa))
	fb, err := bch.Builder().Fetch(frame.Direct, qb)
	require.NoError(t, err)

	// B's first read consumes A's reply and parks it.
	_, err = bch.SendFrameAndRead(ctx, fb)
	require.ErrorIs(t, err, session.ErrReadFailed)

	gotB, err := bch.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "for b", string(frame.TrimPayload(gotB.Payload)))

	gotA, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "for a", string(frame.TrimPayload(gotA.Payload)))
	name, err := gotA.Header.ChannelName()
	require.NoError(t, err)
	assert.Equal(t, "A", name)
}

func TestCloseDisconnectsClients(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	b, addr := setupTestBroker(t)
	s := dialSession(t, addr)
	ch, err := s.CreateChannel(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	_, err = ch.Read(ctx)
	require.ErrorIs(t, err, session.ErrTransport)
}

func TestNewRejectsBindingToUnknownExchange(t *testing.T) {
	testlog.Start(t)
	_, err := devbroker.New(devbroker.Config{VHosts: []devbroker.VHostSpec{{
		Name:   "MQ_HOST",
		Queues: []devbroker.QueueSpec{{Name: "q", Bindings: []string{"nope"}}},
	}}})
	require.ErrorIs(t, err, devbroker.ErrNoExchange)
}
