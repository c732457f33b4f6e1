package amqp

import (
	"context"
	"errors"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"net/url"
	"strconv"
)

// Channel is the subset of *amqp.Channel used by the consumer and the forwarder.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Connection is the subset of *amqp.Connection used here, with Channel returning the interface above.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection.
type Dialer func() (Connection, error)

type connection struct {
	*amqp.Connection
}

func (c connection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// BrokerURL builds an amqp:// URL from its parts, escaping the credentials.
func BrokerURL(host string, port int, user, password string) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/",
	}
	return u.String()
}

// NewDialer returns a Dialer for brokerURL. Credentials are never logged.
func NewDialer(brokerURL string) Dialer {
	return func() (Connection, error) {
		conn, err := amqp.Dial(brokerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to broker %s: %w", redact(brokerURL), err)
		}
		zap.S().Infof("Connected to broker %s", redact(brokerURL))
		return connection{conn}, nil
	}
}

func redact(brokerURL string) string {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// closeQuietly closes channel and connection in that order. Already closed resources are not an error.
func closeQuietly(channel Channel, conn Connection) error {
	var errs []error
	if channel != nil && !channel.IsClosed() {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func declareDurable(channel Channel, queue string) error {
	_, err := channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}
