package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	// queue for committed ledger events
	EventQueue = "ledger.events"
)

// handles RabbitMQ operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		EventQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// EncodeEvent is the message body format shared by publisher and consumer.
func EncodeEvent(ev *models.LedgerEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

func DecodeEvent(body []byte) (*models.LedgerEvent, error) {
	var ev models.LedgerEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if ev.TransactionID == "" {
		return nil, fmt.Errorf("event %q has no transaction id", ev.ID)
	}
	return &ev, nil
}

// publishes a ledger event to the queue
func (r *RabbitMQ) PublishEvent(ctx context.Context, ev *models.LedgerEvent) error {
	body, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	err = r.channel.Publish(
		"",         // exchange
		EventQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			Body:         body,
			DeliveryMode: amqp.Persistent, // make message persistent
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Delivery is one consumed event. The handler must call Ack or Nack; both are
// no-ops when the matching func is nil.
type Delivery struct {
	Event *models.LedgerEvent
	ack   func() error
	nack  func() error
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack hands the message back to the broker for another attempt.
func (d Delivery) Nack() error {
	if d.nack == nil {
		return nil
	}
	return d.nack()
}

// NewDelivery builds a Delivery with custom acknowledgement funcs.
func NewDelivery(ev *models.LedgerEvent, ack, nack func() error) Delivery {
	return Delivery{Event: ev, ack: ack, nack: nack}
}

func newDelivery(ev *models.LedgerEvent, msg amqp.Delivery) Delivery {
	return NewDelivery(ev,
		func() error { return msg.Ack(false) },
		func() error { return msg.Nack(false, true) })
}

// consumes ledger events from the queue
func (r *RabbitMQ) ConsumeEvents(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := r.channel.Consume(
		EventQueue, // queue
		"",         // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	out := make(chan Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				ev, err := DecodeEvent(msg.Body)
				if err != nil {
					zap.L().Warn("Dropping malformed ledger event", zap.Error(err))
					msg.Reject(false) // Don't requeue
					continue
				}

				select {
				case out <- newDelivery(ev, msg):
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}
