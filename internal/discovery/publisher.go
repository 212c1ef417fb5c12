package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/rtlamr2mqtt/internal/metrics"
	"github.com/nerrad567/rtlamr2mqtt/internal/reading"
)

// qos is used for every message; none are retained.
const qos = 1

// Publish kinds used in logs and metrics.
const (
	kindStatus     = "status"
	kindState      = "state"
	kindAttributes = "attributes"
	kindDiscovery  = "discovery"
)

// Broker is the subset of the MQTT client the publisher uses.
// *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishOnline() error
	Topics() mqtt.Topics
}

// Logger defines the logging interface for the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher announces meters to Home Assistant and publishes readings.
//
// Publish failures are logged and counted but never returned: a lost
// message is replaced by the next reading.
type Publisher struct {
	broker  Broker
	topics  mqtt.Topics
	version string
	delay   time.Duration
	metrics *metrics.Metrics
	logger  Logger

	cache *Cache

	mu     sync.RWMutex
	meters map[string]config.MeterConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Publisher seeded with the configured meters. m may be nil.
func New(cfg *config.Config, broker Broker, version string, m *metrics.Metrics) *Publisher {
	meters := make(map[string]config.MeterConfig, len(cfg.Meters))
	for _, meter := range cfg.Meters {
		meters[meter.ID] = meter
	}

	p := &Publisher{
		broker:  broker,
		topics:  broker.Topics(),
		version: version,
		delay:   cfg.General.DiscoveryDelay.Std(),
		metrics: m,
		logger:  noopLogger{},
		cache:   NewCache(cfg.MeterIDs()...),
		meters:  meters,
		now:     time.Now,
		sleep:   sleepContext,
	}
	m.SetKnownMeters(p.cache.Len())
	return p
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Startup announces every configured meter, waits the discovery delay,
// then publishes "online".
func (p *Publisher) Startup(ctx context.Context) error {
	for _, id := range p.cache.IDs() {
		p.announce(id)
	}
	if err := p.sleep(ctx, p.delay); err != nil {
		return err
	}
	p.publishOnline()
	return nil
}

// Observe announces r's meter if it has not been seen this run, then
// waits the discovery delay so Home Assistant registers the device before
// its first state message.
func (p *Publisher) Observe(ctx context.Context, r reading.Reading) error {
	if !p.cache.Add(r.MeterID) {
		return nil
	}

	p.mu.Lock()
	p.meters[r.MeterID] = discoveredMeter(r.MeterID, r.Protocol)
	p.mu.Unlock()

	p.logger.Info("discovered new meter", "meter_id", r.MeterID, "protocol", r.Protocol)
	p.metrics.SetKnownMeters(p.cache.Len())

	p.announce(r.MeterID)
	return p.sleep(ctx, p.delay)
}

// Known reports whether id is configured or has been discovered.
func (p *Publisher) Known(id string) bool {
	return p.cache.Has(id)
}

// KnownCount returns the number of configured and discovered meters.
func (p *Publisher) KnownCount() int {
	return p.cache.Len()
}

// Resync republishes the discovery payload of every known meter. It is
// triggered when Home Assistant restarts and does not change the cache.
func (p *Publisher) Resync() {
	p.logger.Info("resending discovery payloads", "meters", p.cache.Len())
	p.metrics.Resynced()
	for _, id := range p.cache.IDs() {
		p.announce(id)
	}
}

// PublishReading re-asserts "online", then publishes the formatted
// reading and the remaining attributes.
func (p *Publisher) PublishReading(r reading.Reading) {
	meter := p.meter(r.MeterID)

	p.publishOnline()

	state := StatePayload{
		Reading:  reading.FormatConsumption(r.Consumption, meter),
		LastSeen: reading.Timestamp(p.now()),
	}
	if p.publishJSON(kindState, p.topics.State(r.MeterID), state) {
		p.metrics.ReadingPublished(r.MeterID)
		p.logger.Debug("published reading", "meter_id", r.MeterID, "reading", state.Reading)
	}

	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	p.publishJSON(kindAttributes, p.topics.Attributes(r.MeterID), attrs)
}

func (p *Publisher) meter(id string) config.MeterConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.meters[id]; ok {
		return m
	}
	return discoveredMeter(id, "")
}

func (p *Publisher) announce(id string) {
	payload := BuildDevicePayload(p.topics, p.meter(id), p.version)
	if p.publishJSON(kindDiscovery, p.topics.DeviceDiscovery(id), payload) {
		p.metrics.Announced()
		p.logger.Debug("published discovery payload", "meter_id", id)
	}
}

func (p *Publisher) publishOnline() {
	if err := p.broker.PublishOnline(); err != nil {
		p.failed(kindStatus, p.topics.Status(), err)
	}
}

// publishJSON marshals v and publishes it, reporting success.
func (p *Publisher) publishJSON(kind, topic string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed(kind, topic, err)
		return false
	}
	if err := p.broker.Publish(topic, payload, qos, false); err != nil {
		p.failed(kind, topic, err)
		return false
	}
	return true
}

func (p *Publisher) failed(kind, topic string, err error) {
	p.metrics.PublishFailed(kind)
	p.logger.Warn("MQTT publish failed", "kind", kind, "topic", topic, "error", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
