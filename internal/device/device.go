// Package device is the SDK facade: it pairs the device, keeps the broker
// session alive, and routes property traffic through the local cache.
package device

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
	"time"

	"devlink/internal/eventbus"
	"devlink/internal/pairing"
	"devlink/internal/property"
	"devlink/internal/store"
	"devlink/internal/transport/mqtt"
	logx "devlink/pkg/logx"
)

type Device struct {
	opts Options
	pair *pairing.Client
	bus  eventbus.Bus
	log  logx.Logger

	mu      sync.Mutex
	cert    *x509.Certificate
	session *mqtt.Session
}

func New(opts Options, bus eventbus.Bus, log logx.Logger) (*Device, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	pc, err := pairing.New(pairing.Config{
		BaseURL:           opts.PairingURL,
		Realm:             opts.Realm,
		DeviceID:          opts.DeviceID,
		CredentialsSecret: opts.CredentialsSecret,
		Timeout:           opts.RequestTimeout,
	}, log.With(logx.String("component", "pairing")))
	if err != nil {
		return nil, err
	}

	return &Device{
		opts: opts,
		pair: pc,
		bus:  bus,
		log:  log,
	}, nil
}

// Bus exposes the event bus carrying connection and inbound-data events.
func (d *Device) Bus() eventbus.Bus { return d.bus }

func (d *Device) baseTopic() string {
	return d.opts.Realm + "/" + d.opts.DeviceID
}

func (d *Device) topicFor(interfaceName, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.baseTopic() + "/" + interfaceName + path
}

// Run pairs the device if needed, connects to the broker and dispatches
// traffic until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	if err := d.EnsureCredentials(ctx); err != nil {
		return err
	}

	info, err := d.pair.BrokerInfo(ctx)
	if err != nil {
		return fmt.Errorf("discover broker: %w", err)
	}
	tlsCfg, err := d.clientTLS()
	if err != nil {
		return err
	}

	session := mqtt.NewSession(mqtt.Config{
		BrokerURL:      info.BrokerURL,
		ClientID:       d.baseTopic(),
		TLS:            tlsCfg,
		Keepalive:      d.opts.Keepalive,
		ConnectTimeout: d.opts.ConnectTimeout,
		OpTimeout:      d.opts.OpTimeout,
		ReconnectEvery: d.opts.ReconnectEvery,
	}, d.bus, d.log.With(logx.String("component", "mqtt")))
	for _, iface := range d.opts.ServerInterfaces {
		session.AddSubscription(d.baseTopic() + "/" + iface + "/#")
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	events, unsub := d.bus.Subscribe(64)
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return <-done
		case err := <-done:
			return err
		case ev, ok := <-events:
			if !ok {
				return <-done
			}
			switch ev.Type {
			case eventbus.TypeConnected:
				if err := d.resumeProperties(ctx); err != nil {
					d.log.Warn("property resume failed", logx.Err(err))
				}
			case eventbus.TypeDataReceived:
				msg, ok := ev.Data.(mqtt.Message)
				if !ok {
					continue
				}
				d.handleInbound(ctx, msg)
			}
		}
	}
}

// resumeProperties republishes every cached device property so the broker
// reflects the device state after a reconnect.
func (d *Device) resumeProperties(ctx context.Context) error {
	if d.opts.Store == nil {
		return nil
	}
	props, err := d.opts.Store.LoadAll(ctx)
	if err != nil {
		return err
	}
	server := make(map[string]bool, len(d.opts.ServerInterfaces))
	for _, iface := range d.opts.ServerInterfaces {
		server[iface] = true
	}
	for _, p := range props {
		// Server-owned values are theirs to publish.
		if server[p.Interface] {
			continue
		}
		if err := d.publish(ctx, d.topicFor(p.Interface, p.Path), p.Value, true); err != nil {
			return fmt.Errorf("republish %s%s: %w", p.Interface, p.Path, err)
		}
	}
	d.log.Debug("cached properties republished", logx.Int("count", len(props)))
	return nil
}

// handleInbound persists server-owned property updates, then lets bus
// subscribers consume the already-published data event.
func (d *Device) handleInbound(ctx context.Context, msg mqtt.Message) {
	iface, path, ok := d.splitTopic(msg.Topic)
	if !ok {
		d.log.Debug("ignoring message on foreign topic", logx.String("topic", msg.Topic))
		return
	}
	if d.opts.Store == nil {
		return
	}
	for _, s := range d.opts.ServerInterfaces {
		if s != iface {
			continue
		}
		// Server interfaces are tracked at major 1 until introspection
		// exchange is implemented.
		// TODO: carry interface versions once interface definitions are loaded
		// from config.
		if err := d.opts.Store.StoreProp(ctx, iface, path, msg.Payload, 1); err != nil {
			d.log.Warn("persisting server property failed",
				logx.Err(err),
				logx.String("interface", iface),
				logx.String("path", path),
			)
		}
		return
	}
}

func (d *Device) splitTopic(topic string) (iface, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, d.baseTopic()+"/")
	if !found {
		return "", "", false
	}
	i := strings.Index(rest, "/")
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i:], true
}

// SetProperty stores a device-owned property and publishes it retained so
// the broker always carries the current value.
func (d *Device) SetProperty(ctx context.Context, interfaceName, path string, major int32, value any) error {
	payload, err := property.MarshalIndividual(value, nil)
	if err != nil {
		return err
	}
	if d.opts.Store != nil {
		if err := d.opts.Store.StoreProp(ctx, interfaceName, path, payload, major); err != nil {
			return err
		}
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypePropertySet, Data: interfaceName + path})
	return d.publish(ctx, d.topicFor(interfaceName, path), payload, true)
}

// UnsetProperty clears a device-owned property. The empty payload is the
// wire representation of "unset".
func (d *Device) UnsetProperty(ctx context.Context, interfaceName, path string, major int32) error {
	if d.opts.Store != nil {
		if err := d.opts.Store.StoreProp(ctx, interfaceName, path, nil, major); err != nil {
			return err
		}
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypePropertySet, Data: interfaceName + path})
	return d.publish(ctx, d.topicFor(interfaceName, path), nil, true)
}

// Property reads a cached property value.
// It returns (nil, nil) when nothing is cached for (interface, path).
func (d *Device) Property(ctx context.Context, interfaceName, path string, major int32) (*property.Payload, error) {
	if d.opts.Store == nil {
		return nil, store.ErrDisabled
	}
	return d.opts.Store.LoadProp(ctx, interfaceName, path, major)
}

// SendIndividual publishes a datastream value. Datastreams are not cached.
func (d *Device) SendIndividual(ctx context.Context, interfaceName, path string, value any, ts *time.Time) error {
	payload, err := property.MarshalIndividual(value, ts)
	if err != nil {
		return err
	}
	return d.publish(ctx, d.topicFor(interfaceName, path), payload, false)
}

// SendObject publishes an object aggregation datastream.
func (d *Device) SendObject(ctx context.Context, interfaceName, path string, obj map[string]any, ts *time.Time) error {
	payload, err := property.MarshalObject(obj, ts)
	if err != nil {
		return err
	}
	return d.publish(ctx, d.topicFor(interfaceName, path), payload, false)
}

func (d *Device) publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return mqtt.ErrNotConnected
	}
	return session.Publish(ctx, topic, payload, 2, retain)
}
