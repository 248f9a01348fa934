package devbroker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/hopmq/internal/protocol/frame"
)

// Broker status codes written to errcode on fetch replies.
const (
	StatusOK      uint16 = 0
	StatusNoQueue uint16 = 0x2
)

var (
	ErrNoExchange = errors.New("devbroker: exchange not found")
	ErrNoQueue    = errors.New("devbroker: queue not found")
	ErrNotBound   = errors.New("devbroker: queue not bound to exchange")
)

type exchange struct {
	name  string
	kind  frame.RoutingType
	bound map[string]struct{}
}

type messageQueue struct {
	name     string
	messages [][]byte
}

// vhost holds the exchanges and queues of one namespace.
type vhost struct {
	name      string
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*messageQueue
}

func newVHost(name string) *vhost {
	return &vhost{
		name:      name,
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*messageQueue),
	}
}

func (v *vhost) declareExchange(name string, kind frame.RoutingType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.exchanges[name]; ok {
		ex.kind = kind
		return
	}
	v.exchanges[name] = &exchange{name: name, kind: kind, bound: make(map[string]struct{})}
}

func (v *vhost) declareQueue(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.queues[name]; !ok {
		v.queues[name] = &messageQueue{name: name}
	}
}

func (v *vhost) bind(exchangeName, queueName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	ex, ok := v.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoExchange, exchangeName)
	}
	if _, ok := v.queues[queueName]; !ok {
		return fmt.Errorf("%w: %q", ErrNoQueue, queueName)
	}
	ex.bound[queueName] = struct{}{}
	return nil
}

func (v *vhost) unbind(exchangeName, queueName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	ex, ok := v.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoExchange, exchangeName)
	}
	delete(ex.bound, queueName)
	return nil
}

func (v *vhost) dropQueue(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.queues[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoQueue, name)
	}
	delete(v.queues, name)
	for _, ex := range v.exchanges {
		delete(ex.bound, name)
	}
	return nil
}

func (v *vhost) dropExchange(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.exchanges[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoExchange, name)
	}
	delete(v.exchanges, name)
	return nil
}

// route resolves the queues a push lands in. Fanout ignores the queue slot
// and delivers to every queue bound to the exchange; direct and topic need
// the named queue, bound to the exchange when one is given.
func (v *vhost) route(exchangeName, queueName string, rt frame.RoutingType) ([]*messageQueue, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var ex *exchange
	if exchangeName != "" {
		var ok bool
		if ex, ok = v.exchanges[exchangeName]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoExchange, exchangeName)
		}
	}
	if rt == frame.Fanout {
		if ex == nil {
			return nil, fmt.Errorf("%w: fanout needs an exchange", ErrNoExchange)
		}
		names := make([]string, 0, len(ex.bound))
		for name := range ex.bound {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*messageQueue, 0, len(names))
		for _, name := range names {
			out = append(out, v.queues[name])
		}
		return out, nil
	}
	q, ok := v.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoQueue, queueName)
	}
	if ex != nil {
		if _, bound := ex.bound[queueName]; !bound {
			return nil, fmt.Errorf("%w: %q -> %q", ErrNotBound, exchangeName, queueName)
		}
	}
	return []*messageQueue{q}, nil
}

func (v *vhost) push(targets []*messageQueue, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, q := range targets {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		q.messages = append(q.messages, msg)
	}
}

// pop returns the oldest message of queueName and a broker status.
func (v *vhost) pop(queueName string) ([]byte, uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	q, ok := v.queues[queueName]
	if !ok {
		return nil, StatusNoQueue
	}
	if len(q.messages) == 0 {
		return nil, frame.ErrcodeNoItem
	}
	msg := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return msg, StatusOK
}

type QueueStats struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
}

type ExchangeStats struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Queues []string `json:"queues"`
}

type VHostStats struct {
	Name      string          `json:"name"`
	Exchanges []ExchangeStats `json:"exchanges"`
	Queues    []QueueStats    `json:"queues"`
}

func (v *vhost) stats() VHostStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := VHostStats{Name: v.name}
	for _, ex := range v.exchanges {
		es := ExchangeStats{Name: ex.name, Kind: ex.kind.String()}
		for q := range ex.bound {
			es.Queues = append(es.Queues, q)
		}
		sort.Strings(es.Queues)
		out.Exchanges = append(out.Exchanges, es)
	}
	for _, q := range v.queues {
		out.Queues = append(out.Queues, QueueStats{Name: q.name, Pending: len(q.messages)})
	}
	sort.Slice(out.Exchanges, func(i, j int) bool { return out.Exchanges[i].Name < out.Exchanges[j].Name })
	sort.Slice(out.Queues, func(i, j int) bool { return out.Queues[i].Name < out.Queues[j].Name })
	return out
}
