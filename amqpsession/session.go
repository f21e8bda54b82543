// Package amqpsession implements Session: one AMQP channel per
// checkout, bound to a pooled connection, generalized from the
// teacher's amqpConnector (rpc/amqp-rpc.go) which owned a connection,
// reconnected on demand, and declared the fixed "boulder" exchange.
// Session instead declares whatever exchange/queue the caller asks
// for, using the configured default options unless the call supplies
// its own.
package amqpsession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gedera/relay/config"
	relayerrors "github.com/gedera/relay/errors"
	"github.com/gedera/relay/internal/log"
)

// state mirrors the spec's {fresh, open, closed} Session states.
type state int

const (
	stateFresh state = iota
	stateOpen
	stateClosed
)

// Session owns one channel, safely, across concurrent checkouts.
type Session struct {
	conf *config.AMQPConfig
	log  *log.Logger

	mu    sync.Mutex
	state state
	conn  *amqp.Connection
	ch    *amqp.Channel

	defaultExchangeOpts config.ExchangeOptions
	defaultQueueOpts    config.QueueOptions
}

// New builds a Session against an already-open connection. Connection
// lifecycle (dial, reconnect) is the pool's job, per spec.md §4.2's
// "bound to a pooled connection"; Session only manages the channel.
func New(conn *amqp.Connection, conf *config.AMQPConfig, defaultExchangeOpts config.ExchangeOptions, defaultQueueOpts config.QueueOptions) *Session {
	return &Session{
		conf:                conf,
		log:                 log.GetAuditLogger(),
		conn:                conn,
		state:               stateFresh,
		defaultExchangeOpts: defaultExchangeOpts,
		defaultQueueOpts:    defaultQueueOpts,
	}
}

// Dial opens a new broker connection, using TLS if conf is not
// Insecure — the same branch Boulder's AmqpChannel takes.
func Dial(conf *config.AMQPConfig) (*amqp.Connection, error) {
	server := string(conf.Server)
	if conf.Insecure {
		return amqp.Dial(server)
	}

	if !strings.HasPrefix(server, "amqps") {
		return nil, fmt.Errorf("amqpsession: not using an amqps URL; set Insecure=true to use amqp instead")
	}
	if conf.TLS == nil {
		return nil, fmt.Errorf("amqpsession: no TLS configuration provided; set Insecure=true to use amqp instead")
	}

	cfg := new(tls.Config)
	if conf.TLS.CertFile != nil || conf.TLS.KeyFile != nil {
		if conf.TLS.CertFile == nil || conf.TLS.KeyFile == nil {
			return nil, fmt.Errorf("amqpsession: both TLS.CertFile and TLS.KeyFile must be set")
		}
		cert, err := tls.LoadX509KeyPair(*conf.TLS.CertFile, *conf.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("amqpsession: could not load client certificate: %w", err)
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	}
	if conf.TLS.CACertFile != nil {
		cfg.RootCAs = x509.NewCertPool()
		ca, err := os.ReadFile(*conf.TLS.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("amqpsession: could not load CA certificate: %w", err)
		}
		cfg.RootCAs.AppendCertsFromPEM(ca)
	}
	return amqp.DialTLS(server, cfg)
}

// Channel returns a live channel, opening a fresh one if the stored
// channel is closed or none exists yet, per spec.md §4.2's invariant
// that a channel exposed to callers is always open or freshly opened.
func (s *Session) Channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil && s.state == stateOpen && !s.ch.IsClosed() {
		return s.ch, nil
	}

	if s.conn == nil || s.conn.IsClosed() {
		return nil, relayerrors.NewCommunicationError("amqpsession: underlying connection is closed")
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, relayerrors.NewCommunicationError("amqpsession: could not open channel: %v", err)
	}
	if err := ch.Confirm(false); err != nil {
		s.log.Warningf("amqpsession: publisher confirms not supported: %v", err)
	}
	if s.conf != nil && s.conf.ChannelPrefetch > 0 {
		if err := ch.Qos(s.conf.ChannelPrefetch, 0, false); err != nil {
			ch.Close()
			return nil, relayerrors.NewCommunicationError("amqpsession: could not set prefetch: %v", err)
		}
	}

	s.ch = ch
	s.state = stateOpen
	return ch, nil
}

// Exchange declares name as kind and returns name for use as a
// publish/bind target. A non-nil opts replaces the configured defaults
// as a whole; the two are not merged field by field. An
// empty name means "use the default exchange" and is returned as-is
// without declaring anything, per spec.md §4.2.
func (s *Session) Exchange(name, kind string, opts *config.ExchangeOptions) (string, error) {
	if name == "" {
		return "", nil
	}
	ch, err := s.Channel()
	if err != nil {
		return "", err
	}
	merged := s.defaultExchangeOpts
	if opts != nil {
		merged = *opts
	}
	err = ch.ExchangeDeclare(name, kind, merged.Durable, merged.AutoDelete, merged.Internal, merged.NoWait, nil)
	if err != nil {
		return "", relayerrors.NewCommunicationError("amqpsession: could not declare exchange %s: %v", name, err)
	}
	return name, nil
}

// Queue declares name. A non-nil opts replaces the configured defaults
// as a whole; the two are not merged field by field. An empty name
// requests a broker-generated name.
func (s *Session) Queue(name string, opts *config.QueueOptions) (string, error) {
	ch, err := s.Channel()
	if err != nil {
		return "", err
	}
	merged := s.defaultQueueOpts
	if opts != nil {
		merged = *opts
	}
	q, err := ch.QueueDeclare(name, merged.Durable, merged.AutoDelete, merged.Exclusive, merged.NoWait, nil)
	if err != nil {
		return "", relayerrors.NewCommunicationError("amqpsession: could not declare queue %s: %v", name, err)
	}
	return q.Name, nil
}

// Close closes the channel if open. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen || s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.state = stateClosed
	return err
}

// Publish wraps channel.PublishWithContext so Producer and Consumer
// never touch the amqp091-go channel type directly, mirroring the
// teacher's amqpConnector.publish helper.
func (s *Session) Publish(ctx context.Context, exchange, routingKey string, props amqp.Publishing) error {
	ch, err := s.Channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, props)
	if err != nil {
		return relayerrors.NewCommunicationError("amqpsession: publish failed: %v", err)
	}
	return nil
}

// Consume begins a consumer on queue, in auto-ack mode when autoAck is
// true and manual-ack mode otherwise.
func (s *Session) Consume(queue, consumer string, autoAck bool) (<-chan amqp.Delivery, error) {
	ch, err := s.Channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, consumer, autoAck, false, false, false, nil)
	if err != nil {
		return nil, relayerrors.NewCommunicationError("amqpsession: consume failed: %v", err)
	}
	return deliveries, nil
}

// Bind binds queue to exchange with routingKey.
func (s *Session) Bind(queue, exchange, routingKey string) error {
	ch, err := s.Channel()
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return relayerrors.NewCommunicationError("amqpsession: could not bind queue %s to %s: %v", queue, exchange, err)
	}
	return nil
}
