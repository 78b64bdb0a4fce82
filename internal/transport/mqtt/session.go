// Package mqtt maintains the broker connection for a paired device:
// connect with the mTLS credentials, keep the configured subscriptions
// alive across reconnects, and fan inbound messages out on the event bus.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"devlink/internal/eventbus"
	logx "devlink/pkg/logx"
)

var ErrNotConnected = errors.New("broker session not connected")

type Config struct {
	BrokerURL string
	ClientID  string
	TLS       *tls.Config

	Keepalive      time.Duration // 0 means 30s
	ConnectTimeout time.Duration // 0 means 15s
	OpTimeout      time.Duration // publish/subscribe ack wait; 0 means 10s

	// ReconnectEvery paces reconnect attempts after a lost connection.
	// 0 means one attempt per 5s.
	ReconnectEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Keepalive <= 0 {
		c.Keepalive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.ReconnectEvery <= 0 {
		c.ReconnectEvery = 5 * time.Second
	}
	return c
}

// Message is an inbound broker message, delivered on the bus as
// eventbus.TypeDataReceived.
type Message struct {
	Topic   string
	Payload []byte
}

// Session owns one logical broker connection.
//
// Run() keeps the connection alive until the context ends; Publish() is
// safe to call from other goroutines while Run() is active.
type Session struct {
	cfg Config
	bus eventbus.Bus
	log logx.Logger

	mu      sync.Mutex
	cli     paho.Client
	filters []string

	lost chan struct{}
}

func NewSession(cfg Config, bus eventbus.Bus, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		cfg:  cfg.withDefaults(),
		bus:  bus,
		log:  log,
		lost: make(chan struct{}, 1),
	}
}

// AddSubscription registers a topic filter that is (re)subscribed on every
// successful connect. Call before Run().
func (s *Session) AddSubscription(filter string) {
	f := strings.TrimSpace(filter)
	if f == "" {
		return
	}
	s.mu.Lock()
	s.filters = append(s.filters, f)
	s.mu.Unlock()
}

// Run connects and stays connected until ctx ends. Reconnect attempts are
// paced by cfg.ReconnectEvery.
func (s *Session) Run(ctx context.Context) error {
	lim := rate.NewLimiter(rate.Every(s.cfg.ReconnectEvery), 1)

	for {
		if err := lim.Wait(ctx); err != nil {
			return nil
		}

		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("broker connect failed", logx.Err(err), logx.String("broker", s.cfg.BrokerURL))
			continue
		}

		s.bus.Publish(eventbus.Event{Type: eventbus.TypeConnected, Data: s.cfg.BrokerURL})
		s.log.Info("broker connected", logx.String("broker", s.cfg.BrokerURL))

		select {
		case <-ctx.Done():
			s.disconnect()
			return nil
		case <-s.lost:
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeDisconnected, Data: s.cfg.BrokerURL})
			s.log.Warn("broker connection lost; reconnecting")
		}
	}
}

func (s *Session) connect(ctx context.Context) error {
	// Drop any stale lost-signal from a previous client.
	select {
	case <-s.lost:
	default:
	}

	opts := paho.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(false).
		SetKeepAlive(s.cfg.Keepalive).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(false). // Run() owns the reconnect loop
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.log.Debug("connection lost callback", logx.Err(err))
			select {
			case s.lost <- struct{}{}:
			default:
			}
		}).
		SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeDataReceived,
				Data: Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)},
			})
		})
	if s.cfg.TLS != nil {
		opts.SetTLSConfig(s.cfg.TLS)
	}

	cli := paho.NewClient(opts)
	if err := s.wait(ctx, cli.Connect(), s.cfg.ConnectTimeout); err != nil {
		return err
	}

	s.mu.Lock()
	s.cli = cli
	filters := append([]string(nil), s.filters...)
	s.mu.Unlock()

	for _, f := range filters {
		if err := s.wait(ctx, cli.Subscribe(f, 2, nil), s.cfg.OpTimeout); err != nil {
			cli.Disconnect(250)
			return fmt.Errorf("subscribe %q: %w", f, err)
		}
	}
	return nil
}

func (s *Session) disconnect() {
	s.mu.Lock()
	cli := s.cli
	s.cli = nil
	s.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
}

// Publish sends a payload with the given QoS. Retained messages are used
// for property topics so late subscribers see the current value.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s.mu.Lock()
	cli := s.cli
	s.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return ErrNotConnected
	}
	return s.wait(ctx, cli.Publish(topic, qos, retain, payload), s.cfg.OpTimeout)
}

func (s *Session) wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	case <-time.After(timeout):
		return errors.New("broker operation timed out")
	}
}
