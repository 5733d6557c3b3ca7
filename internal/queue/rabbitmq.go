package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	StatusExchange   = "image_processing"
	StatusRoutingKey = "status"
	StatusQueue      = "status_queue"
)

func NewRabbitMQClient(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func NewChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel :%w", err)
	}
	return ch, nil
}

func NewQueue(ch *amqp.Channel, queueName string) (*amqp.Queue, error) {
	queue, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return &queue, nil
}

// NewQueueConsumer consumes with manual acks. prefetch bounds the number of
// unacked deliveries handed to this channel.
func NewQueueConsumer(ch *amqp.Channel, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set qos : %w", err)
		}
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume : %w", err)
	}
	return msgs, nil
}

// DeclareStatusRoute sets up the direct exchange status messages go to and
// binds the status queue to it.
func DeclareStatusRoute(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		StatusExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("error while declaring an exchange: %w", err)
	}
	if _, err := NewQueue(ch, StatusQueue); err != nil {
		return err
	}
	if err := ch.QueueBind(StatusQueue, StatusRoutingKey, StatusExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind status queue: %w", err)
	}
	return nil
}
