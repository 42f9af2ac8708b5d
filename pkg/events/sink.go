package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Sink delivers changes to one external destination.
type Sink interface {
	// Connect initializes the sink from its free-form config map.
	Connect(ctx context.Context, config map[string]any, logger *zap.Logger) error
	Publish(ctx context.Context, c Change) error
	Close() error
}

// SinkConfig configures one named sink instance.
type SinkConfig struct {
	Name string `mapstructure:"name"`
	// Type is the registered sink type, eg nats.
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
	// Tables limits the sink to schema.table names. Empty means all.
	Tables []string `mapstructure:"tables"`
}

// Predefined sink types
const (
	SinkDebug   = "debug"
	SinkKafka   = "kafka"
	SinkMQTT    = "mqtt"
	SinkNATS    = "nats"
	SinkWebhook = "webhook"
)

var (
	sinksMu sync.RWMutex
	sinks   = make(map[string]func() Sink)
)

// RegisterSink makes a sink type available by name. It is called from the
// init function of sink packages.
func RegisterSink(name string, factory func() Sink) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	sinks[name] = factory
}

// SinkTypes returns the registered sink types, sorted.
func SinkTypes() []string {
	sinksMu.RLock()
	defer sinksMu.RUnlock()
	names := make([]string, 0, len(sinks))
	for name := range sinks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewSink returns an unconnected sink of a registered type.
func NewSink(typ string) (Sink, error) {
	sinksMu.RLock()
	factory, ok := sinks[typ]
	sinksMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink type %q is not registered", typ)
	}
	return factory(), nil
}

// DecodeConfig decodes a free-form sink config map into out. Field names
// follow mapstructure tags; durations accept strings such as "5s".
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode sink config: %w", err)
	}
	return nil
}

// defaultPublishTimeout bounds one publish attempt.
const defaultPublishTimeout = 10 * time.Second
