package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names every exchange and queue the service uses.
type Topology struct {
	EventsExchange     string
	WorkExchange       string
	WorkRoutingKey     string
	WorkQueue          string
	DeadLetterExchange string
	DeadLetterQueue    string
}

// DeclareEvents asserts the durable topic exchange inventory events are published to.
func (t Topology) DeclareEvents(ch Channel) error {
	if err := ch.ExchangeDeclare(t.EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.EventsExchange, err)
	}
	return nil
}

// Declare asserts the full topology. The work queue dead-letters rejected messages
// to a fanout exchange with its own durable queue.
func (t Topology) Declare(ch Channel) error {
	if err := t.DeclareEvents(ch); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue, "", t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue, err)
	}

	if err := ch.ExchangeDeclare(t.WorkExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.WorkExchange, err)
	}
	_, err := ch.QueueDeclare(t.WorkQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": t.DeadLetterExchange,
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", t.WorkQueue, err)
	}
	if err := ch.QueueBind(t.WorkQueue, t.WorkRoutingKey, t.WorkExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.WorkQueue, err)
	}

	return nil
}
