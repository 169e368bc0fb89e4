// Package brokertest provides in-memory broker fakes for tests.
package brokertest

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/inventory-service/internal/adapter/broker"
)

type Published struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type Binding struct {
	Queue, Key, Exchange string
}

// Channel records everything sent through it.
type Channel struct {
	mu         sync.Mutex
	Exchanges  map[string]string
	Queues     map[string]amqp.Table
	Bindings   []Binding
	published  []Published
	closed     bool
	notify     []chan *amqp.Error
	deliveries chan amqp.Delivery

	// PublishErr, when set, is returned by every publish.
	PublishErr error
	// ConsumeErr, when set, is returned by every consume.
	ConsumeErr error
}

func NewChannel() *Channel {
	return &Channel{
		Exchanges:  map[string]string{},
		Queues:     map[string]amqp.Table{},
		deliveries: make(chan amqp.Delivery, 64),
	}
}

func (c *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.Exchanges[name] = kind
	return nil
}

func (c *Channel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	c.Queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bindings = append(c.Bindings, Binding{Queue: name, Key: key, Exchange: exchange})
	return nil
}

func (c *Channel) Qos(_, _ int, _ bool) error {
	return nil
}

func (c *Channel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.published = append(c.published, Published{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func (c *Channel) Consume(_, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.ConsumeErr != nil {
		return nil, c.ConsumeErr
	}
	return c.deliveries, nil
}

func (c *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Channel) Close() error {
	return c.shutdown(nil)
}

// Fail closes the channel as the broker would after a channel exception.
func (c *Channel) Fail(reason string) {
	_ = c.shutdown(&amqp.Error{Code: amqp.ChannelError, Reason: reason})
}

func (c *Channel) shutdown(reason *amqp.Error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, n := range c.notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	c.notify = nil
	close(c.deliveries)
	return nil
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Deliver pushes a message to consumers of this channel.
func (c *Channel) Deliver(d amqp.Delivery) {
	c.deliveries <- d
}

// Conn hands out one channel.
type Conn struct {
	mu     sync.Mutex
	ch     *Channel
	closed bool
	notify []chan *amqp.Error
}

func NewConn(ch *Channel) *Conn {
	return &Conn{ch: ch}
}

func (c *Conn) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return c.ch, nil
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, n := range c.notify {
		close(n)
	}
	c.notify = nil
	return nil
}

var ErrRefused = errors.New("connection refused")

// Dialer returns conns in order, failing the first `failures` dials.
type Dialer struct {
	mu       sync.Mutex
	conns    []*Conn
	fresh    func() *Conn
	failures int
	calls    int
}

func NewDialer(failures int, conns ...*Conn) *Dialer {
	return &Dialer{conns: conns, failures: failures}
}

// NewFreshDialer builds a new conn on every dial.
func NewFreshDialer(fresh func() *Conn) *Dialer {
	return &Dialer{fresh: fresh}
}

func (d *Dialer) Dial(string) (broker.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.fresh != nil && d.calls > d.failures {
		return d.fresh(), nil
	}
	if d.calls <= d.failures || len(d.conns) == 0 {
		return nil, ErrRefused
	}

	conn := d.conns[0]
	if len(d.conns) > 1 {
		d.conns = d.conns[1:]
	}
	return conn, nil
}

func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Acknowledger records how deliveries were settled.
type Acknowledger struct {
	mu    sync.Mutex
	Acks  []uint64
	Nacks []Nack
	Err   error
}

type Nack struct {
	Tag     uint64
	Requeue bool
}

func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acks = append(a.Acks, tag)
	return a.Err
}

func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacks = append(a.Nacks, Nack{Tag: tag, Requeue: requeue})
	return a.Err
}

func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *Acknowledger) Snapshot() ([]uint64, []Nack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.Acks...), append([]Nack(nil), a.Nacks...)
}
