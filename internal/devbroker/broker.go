// Package devbroker is an in-memory broker that speaks the hopmq wire
// format. It backs local development and the client's integration tests.
package devbroker

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/hopmq/internal/protocol/builder"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/routing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zhiqiangxu/util"
)

type ExchangeSpec struct {
	Name    string
	Routing frame.RoutingType
}

type QueueSpec struct {
	Name     string
	Bindings []string
}

// VHostSpec predeclares one namespace.
type VHostSpec struct {
	Name      string
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
}

type Config struct {
	Listen string
	VHosts []VHostSpec
	Limits frame.Limits
	TLS    *tls.Config
}

// Observer receives broker events. Calls must not block.
type Observer interface {
	ConnOpened()
	ConnClosed()
	FrameHandled(kind, op string)
}

type nopObserver struct{}

func (nopObserver) ConnOpened() {}
func (nopObserver) ConnClosed() {}
func (nopObserver) FrameHandled(string, string) {}

type Broker struct {
	cfg    Config
	obs    Observer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	vhosts map[string]*vhost
	ln     net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

func New(cfg Config) (*Broker, error) {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		cfg:    cfg,
		obs:    nopObserver{},
		ctx:    ctx,
		cancel: cancel,
		vhosts: make(map[string]*vhost),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, spec := range cfg.VHosts {
		if err := b.declareVHost(spec); err != nil {
			cancel()
			return nil, err
		}
	}
	return b, nil
}

// SetObserver must be called before Serve.
func (b *Broker) SetObserver(o Observer) {
	if o != nil {
		b.obs = o
	}
}

func (b *Broker) declareVHost(spec VHostSpec) error {
	v := b.vhost(spec.Name)
	for _, ex := range spec.Exchanges {
		rt := ex.Routing
		if rt == frame.RoutingUnset {
			rt = frame.Direct
		}
		v.declareExchange(ex.Name, rt)
	}
	for _, q := range spec.Queues {
		v.declareQueue(q.Name)
		for _, ex := range q.Bindings {
			if err := v.bind(ex, q.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// vhost returns the namespace, creating it on first use.
func (b *Broker) vhost(name string) *vhost {
	b.mu.RLock()
	v, ok := b.vhosts[name]
	b.mu.RUnlock()
	if ok {
		return v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok = b.vhosts[name]; ok {
		return v
	}
	v = newVHost(name)
	b.vhosts[name] = v
	return v
}

// Listen binds cfg.Listen, wrapping the listener in TLS when configured.
func (b *Broker) Listen() error {
	ln, err := net.Listen("tcp", b.cfg.Listen)
	if err != nil {
		return err
	}
	if b.cfg.TLS != nil {
		ln = tls.NewListener(ln, b.cfg.TLS)
	}
	b.mu.Lock()
	b.ln = ln
	b.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", b.cfg.TLS != nil).Msg("devbroker listening")
	return nil
}

func (b *Broker) Addr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Serve runs the accept loop in the background.
func (b *Broker) Serve() {
	b.mu.RLock()
	ln := b.ln
	b.mu.RUnlock()
	util.GoFunc(&b.wg, func() {
		var tempDelay time.Duration
		for {
			conn, err := ln.Accept()
			if err == nil {
				tempDelay = 0
				util.GoFunc(&b.wg, func() {
					b.ServeConn(conn)
				})
				continue
			}

			select {
			case <-b.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			log.Error().Err(err).Dur("retry_in", tempDelay).Msg("devbroker accept")
			time.Sleep(tempDelay)
		}
	})
}

// ServeConn handles frames from conn until it closes or the broker stops.
func (b *Broker) ServeConn(conn net.Conn) {
	b.connsMu.Lock()
	if b.ctx.Err() != nil {
		b.connsMu.Unlock()
		_ = conn.Close()
		return
	}
	b.conns[conn] = struct{}{}
	b.connsMu.Unlock()
	b.obs.ConnOpened()
	logger := log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("devbroker conn opened")
	defer func() {
		b.connsMu.Lock()
		delete(b.conns, conn)
		b.connsMu.Unlock()
		_ = conn.Close()
		b.obs.ConnClosed()
		logger.Debug().Msg("devbroker conn closed")
	}()

	for {
		f, err := frame.ReadFrame(conn, b.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("devbroker read")
			}
			return
		}
		reply, ok := b.handle(logger, f)
		if !ok {
			continue
		}
		if err := frame.WriteFrame(conn, reply); err != nil {
			logger.Warn().Err(err).Msg("devbroker write")
			return
		}
	}
}

// handle applies one frame. It returns a reply only for fetches.
func (b *Broker) handle(logger zerolog.Logger, f frame.Frame) (frame.Frame, bool) {
	h := f.Header
	host, _ := h.VirtualHostName()
	channel, _ := h.ChannelName()
	mod := h.Mod()
	logger = logger.With().Str("vhost", host).Str("channel", channel).Logger()

	if h.Version != frame.Version {
		logger.Warn().Hex("version", h.Version[:]).Msg("devbroker unsupported version")
		return frame.Frame{}, false
	}
	if builder.IsClose(h) {
		b.obs.FrameHandled(mod.Kind.String(), "close")
		logger.Debug().Msg("devbroker channel closed")
		return frame.Frame{}, false
	}

	chain, err := routing.ParseSlots(h.Route)
	if err != nil {
		logger.Warn().Err(err).Msg("devbroker bad routing slots")
		return frame.Frame{}, false
	}
	v := b.vhost(host)
	hop := lastHop(chain)

	switch mod.Kind {
	case frame.KindCommand:
		b.obs.FrameHandled(mod.Kind.String(), mod.Command.String())
		name := string(frame.TrimPayload(f.Payload))
		if err := b.command(v, mod, hop, name); err != nil {
			logger.Warn().Err(err).Str("op", mod.Command.String()).Str("name", name).Msg("devbroker command failed")
		}
		return frame.Frame{}, false
	case frame.KindMessage:
		b.obs.FrameHandled(mod.Kind.String(), mod.Message.String())
		switch mod.Message {
		case frame.Push:
			targets, err := v.route(hop, chain.Queue(), mod.Routing)
			if err != nil {
				logger.Warn().Err(err).Msg("devbroker push unroutable")
				return frame.Frame{}, false
			}
			v.push(targets, f.Payload)
			return frame.Frame{}, false
		case frame.Fetch:
			msg, status := v.pop(chain.Queue())
			reply := frame.Frame{Header: h, Payload: msg}.Seal()
			reply.Header.Errcode = status
			return reply, true
		}
	}
	logger.Warn().Str("kind", mod.Kind.String()).Msg("devbroker ignored frame")
	return frame.Frame{}, false
}

func (b *Broker) command(v *vhost, mod frame.RoutingMod, hop, name string) error {
	switch mod.Command {
	case frame.NewExchange:
		v.declareExchange(name, mod.Routing)
		return nil
	case frame.NewQueue:
		v.declareQueue(name)
		if hop != "" {
			return v.bind(hop, name)
		}
		return nil
	case frame.NewBinding:
		return v.bind(hop, name)
	case frame.DropQueue:
		return v.dropQueue(name)
	case frame.DropExchange:
		return v.dropExchange(name)
	case frame.DropBinding:
		return v.unbind(hop, name)
	}
	return nil
}

// lastHop is the final named entry before the chain stops.
func lastHop(c routing.Chain) string {
	var hop string
	for _, e := range c.Entries() {
		if e.Kind == routing.KindStop {
			break
		}
		hop = e.Name
	}
	return hop
}

// Stats returns every vhost ordered by name.
func (b *Broker) Stats() []VHostStats {
	b.mu.RLock()
	list := make([]*vhost, 0, len(b.vhosts))
	for _, v := range b.vhosts {
		list = append(list, v)
	}
	b.mu.RUnlock()
	out := make([]VHostStats, 0, len(list))
	for _, v := range list {
		out = append(out, v.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops accepting, closes every connection and waits for handlers.
func (b *Broker) Close() error {
	b.cancel()
	var err error
	b.mu.RLock()
	ln := b.ln
	b.mu.RUnlock()
	if ln != nil {
		err = ln.Close()
	}
	b.connsMu.Lock()
	for conn := range b.conns {
		_ = conn.Close()
	}
	b.connsMu.Unlock()
	b.wg.Wait()
	return err
}
