package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/hopmq/internal/protocol/builder"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type op uint8

const (
	opCreate op = iota + 1
	opDrop
	opSend
	opRead
	opSendRead
	opCloseChannel
	opStats
	opShutdown
)

func (o op) String() string {
	switch o {
	case opCreate:
		return "create"
	case opDrop:
		return "drop"
	case opSend:
		return "send"
	case opRead:
		return "read"
	case opSendRead:
		return "send_read"
	case opCloseChannel:
		return "close_channel"
	case opStats:
		return "stats"
	case opShutdown:
		return "shutdown"
	}
	return "unknown"
}

type request struct {
	ctx     context.Context
	op      op
	channel string
	data    []byte
	reply   chan response
}

type response struct {
	frame   *frame.Frame
	channel *Channel
	stats   Stats
	err     error
}

type channelState struct {
	handle *Channel
	closed bool
}

// Session owns one connection. All connection and registry state below the
// reqs line is touched only by the actor goroutine.
type Session struct {
	id     string
	cfg    Config
	limits frame.Limits
	obs    Observer
	logger zerolog.Logger
	opened time.Time

	reqs chan request
	done chan struct{}

	errMu sync.Mutex
	cause error

	conn     net.Conn
	channels map[string]*channelState
	inbox    *Inbox
	sent     uint64
	received uint64
	demuxed  uint64
	dropped  uint64
	misses   uint64
}

// New adopts conn and starts the session actor. The session owns conn from
// here on and closes it on Close or on a fatal transport error.
func New(conn net.Conn, cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		cfg:      cfg,
		limits:   cfg.Limits(),
		obs:      nopObserver{},
		opened:   time.Now(),
		reqs:     make(chan request),
		done:     make(chan struct{}),
		conn:     conn,
		channels: make(map[string]*channelState),
		inbox:    NewInbox(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With().
		Str("session", id).
		Str("vhost", cfg.VirtualHost).
		Str("remote", remoteAddr(conn)).
		Logger()
	go s.run()
	s.logger.Info().Msg("session opened")
	return s, nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) ID() string { return s.id }

func (s *Session) VirtualHost() string { return s.cfg.VirtualHost }

// Done is closed once the actor has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal cause that stopped the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.cause
}

func (s *Session) closedErr() error {
	if cause := s.Err(); cause != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	return ErrSessionClosed
}

func (s *Session) do(ctx context.Context, req request) response {
	if ctx == nil {
		ctx = context.Background()
	}
	req.ctx = ctx
	req.reply = make(chan response, 1)
	select {
	case <-s.done:
		return response{err: s.closedErr()}
	default:
	}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	case <-s.done:
		return response{err: s.closedErr()}
	}
	return <-req.reply
}

// CreateChannel registers a channel. An empty name generates one. A taken
// name returns ErrChannelExists and leaves the registry unchanged.
func (s *Session) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	resp := s.do(ctx, request{op: opCreate, channel: name})
	return resp.channel, resp.err
}

// DropChannel performs the close handshake if the channel is still open,
// then forgets it and discards its inbox.
func (s *Session) DropChannel(ctx context.Context, name string) error {
	return s.do(ctx, request{op: opDrop, channel: name}).err
}

// Send writes one encoded frame on behalf of channel.
func (s *Session) Send(ctx context.Context, channel string, data []byte) error {
	return s.do(ctx, request{op: opSend, channel: channel, data: data}).err
}

// Read returns the next frame for channel, from its inbox first and then
// from the connection. ErrReadFailed means nothing was available.
func (s *Session) Read(ctx context.Context, channel string) (*frame.Frame, error) {
	resp := s.do(ctx, request{op: opRead, channel: channel})
	return resp.frame, resp.err
}

// SendAndRead is Send then Read as one actor step.
func (s *Session) SendAndRead(ctx context.Context, channel string, data []byte) (*frame.Frame, error) {
	resp := s.do(ctx, request{op: opSendRead, channel: channel, data: data})
	return resp.frame, resp.err
}

func (s *Session) closeChannel(ctx context.Context, channel string) error {
	return s.do(ctx, request{op: opCloseChannel, channel: channel}).err
}

// Stats returns a snapshot taken by the actor.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	resp := s.do(ctx, request{op: opStats})
	return resp.stats, resp.err
}

// Close closes every open channel and shuts down the connection. Closing an
// already closed session returns nil.
func (s *Session) Close(ctx context.Context) error {
	err := s.do(ctx, request{op: opShutdown}).err
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *Session) run() {
	defer close(s.done)
	for {
		req := <-s.reqs
		resp := s.handle(req)
		stop := req.op == opShutdown
		if errors.Is(resp.err, ErrTransport) {
			s.fail(resp.err)
			stop = true
		}
		req.reply <- resp
		if stop {
			return
		}
	}
}

func (s *Session) handle(req request) response {
	switch req.op {
	case opCreate:
		ch, err := s.create(req.channel)
		return response{channel: ch, err: err}
	case opDrop:
		return response{err: s.drop(req.ctx, req.channel)}
	case opSend:
		return response{err: s.send(req.ctx, req.channel, req.data)}
	case opRead:
		f, err := s.read(req.ctx, req.channel)
		return response{frame: f, err: err}
	case opSendRead:
		if err := s.send(req.ctx, req.channel, req.data); err != nil {
			return response{err: err}
		}
		f, err := s.read(req.ctx, req.channel)
		return response{frame: f, err: err}
	case opCloseChannel:
		return response{err: s.closeHandshake(req.ctx, req.channel)}
	case opStats:
		return response{stats: s.snapshot()}
	case opShutdown:
		return response{err: s.shutdown(req.ctx)}
	}
	return response{err: fmt.Errorf("session: unsupported op %s", req.op)}
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.cause == nil {
		s.cause = err
	}
	s.errMu.Unlock()
	s.logger.Error().Err(err).Msg("session failed")
	s.teardown()
}

func (s *Session) teardown() {
	for name, st := range s.channels {
		st.handle.closed.Store(true)
		s.inbox.Discard(name)
	}
	clear(s.channels)
	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("conn close")
	}
}

func generateChannelName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Session) create(name string) (*Channel, error) {
	if name == "" {
		name = generateChannelName()
	}
	if _, ok := s.channels[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelExists, name)
	}
	b, err := builder.New(s.cfg.VirtualHost, name)
	if err != nil {
		return nil, err
	}
	ch := &Channel{s: s, name: name, b: b}
	s.channels[name] = &channelState{handle: ch}
	s.logger.Debug().Str("channel", name).Msg("channel created")
	return ch, nil
}

func (s *Session) lookup(name string) (*channelState, error) {
	st, ok := s.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	if st.closed {
		return nil, fmt.Errorf("%w: %q", ErrChannelClosed, name)
	}
	return st, nil
}

func (s *Session) drop(ctx context.Context, name string) error {
	st, ok := s.channels[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	var err error
	if !st.closed {
		err = s.closeHandshake(ctx, name)
	}
	delete(s.channels, name)
	if n := s.inbox.Discard(name); n > 0 {
		s.logger.Debug().Str("channel", name).Int("discarded", n).Msg("inbox discarded")
	}
	return err
}

// closeHandshake sends one close frame and marks the channel closed even
// when the write fails.
func (s *Session) closeHandshake(ctx context.Context, name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	f, err := st.handle.b.CloseChannel()
	if err != nil {
		return err
	}
	err = s.write(ctx, name, f.Encode())
	st.closed = true
	st.handle.closed.Store(true)
	s.inbox.Discard(name)
	s.logger.Debug().Str("channel", name).Err(err).Msg("channel closed")
	return err
}

func (s *Session) shutdown(ctx context.Context) error {
	names := make([]string, 0, len(s.channels))
	for name, st := range s.channels {
		if !st.closed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		err := s.closeHandshake(ctx, name)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if errors.Is(err, ErrTransport) {
			break
		}
	}
	s.teardown()
	s.logger.Info().Uint64("sent", s.sent).Uint64("received", s.received).Msg("session closed")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

func (s *Session) send(ctx context.Context, name string, data []byte) error {
	if _, err := s.lookup(name); err != nil {
		return err
	}
	return s.write(ctx, name, data)
}

func (s *Session) write(ctx context.Context, name string, data []byte) error {
	if err := s.setWriteDeadline(ctx); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	n, err := s.conn.Write(data)
	stop()
	if err != nil {
		if n == 0 && isTimeout(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return fmt.Errorf("%w: write %d/%d bytes: %w", ErrTransport, n, len(data), err)
	}
	s.sent++
	s.obs.FrameSent(name, n)
	s.logger.Debug().Str("channel", name).Int("bytes", n).Msg("frame sent")
	return nil
}

func (s *Session) read(ctx context.Context, name string) (*frame.Frame, error) {
	if _, err := s.lookup(name); err != nil {
		return nil, err
	}
	if f, ok := s.inbox.Pop(name); ok {
		return &f, nil
	}

	started := time.Now()
	f, err := s.readFrame(ctx)
	s.obs.ReadDuration(time.Since(started))
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		if cached, ok := s.inbox.Pop(name); ok {
			return &cached, nil
		}
		s.misses++
		s.obs.ReadMiss(name)
		return nil, err
	}
	s.received++

	to, err := f.Header.ChannelName()
	if err != nil {
		s.discard("unreadable_channel", to, err)
		return s.popOrMiss(name)
	}
	s.obs.FrameReceived(to, int(f.Header.PayloadLen())+frame.HeaderLen)
	if to == name {
		return &f, nil
	}
	if other, ok := s.channels[to]; ok && !other.closed {
		s.inbox.Push(to, f)
		s.demuxed++
		s.obs.FrameDemuxed(to)
		s.logger.Debug().Str("channel", name).Str("addressee", to).Msg("frame parked for other channel")
	} else {
		s.discard("unknown_channel", to, nil)
	}
	return s.popOrMiss(name)
}

func (s *Session) discard(reason, to string, err error) {
	s.dropped++
	s.obs.FrameDropped(reason)
	s.logger.Warn().Str("reason", reason).Str("addressee", to).Err(err).Msg("frame dropped")
}

func (s *Session) popOrMiss(name string) (*frame.Frame, error) {
	if f, ok := s.inbox.Pop(name); ok {
		return &f, nil
	}
	s.misses++
	s.obs.ReadMiss(name)
	return nil, fmt.Errorf("%w: no frame for channel %q", ErrReadFailed, name)
}

// readFrame reads one whole frame. A timeout before any header byte is a
// miss; anything that leaves the stream mid-frame is fatal.
func (s *Session) readFrame(ctx context.Context) (frame.Frame, error) {
	if err := s.setReadDeadline(ctx); err != nil {
		return frame.Frame{}, fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var fixed [frame.HeaderLen]byte
	n, err := io.ReadFull(s.conn, fixed[:])
	if err != nil {
		if n == 0 && isTimeout(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return frame.Frame{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		return frame.Frame{}, fmt.Errorf("%w: header read after %d bytes: %w", ErrTransport, n, err)
	}
	h, err := frame.DecodeHeader(fixed[:])
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	payload, err := frame.ReadPayload(s.conn, h, s.limits)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: payload read: %w", ErrTransport, err)
	}
	return frame.Frame{Header: h, Payload: payload}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Session) setWriteDeadline(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return s.conn.SetWriteDeadline(deadline)
}

func (s *Session) setReadDeadline(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return s.conn.SetReadDeadline(deadline)
}
