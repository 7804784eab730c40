package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/infrastructure/mqtt"
)

const ingestTimeout = 5 * time.Second

// bus is the part of *mqtt.Client the ingest needs.
type bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// Ingest stores samples published by devices on MQTT and relays them to
// live subscribers.
type Ingest struct {
	sink    Source
	feed    *Feed
	pattern string
	logger  *logging.Logger
	now     func() time.Time
}

// NewIngest creates an Ingest for topics matching pattern, which must hold
// a single "+" wildcard for the device id.
func NewIngest(sink Source, feed *Feed, pattern string, logger *logging.Logger) *Ingest {
	if pattern == "" {
		pattern = mqtt.Topics{}.AllDeviceStates()
	}
	return &Ingest{
		sink:    sink,
		feed:    feed,
		pattern: pattern,
		logger:  logger.With("component", "ingest"),
		now:     time.Now,
	}
}

// Start subscribes to the device state pattern. A lost broker connection
// is reported to every live subscriber as ErrRelay.
func (i *Ingest) Start(b bus) error {
	b.SetOnDisconnect(func(err error) {
		i.logger.Warn("device bus disconnected", "error", err)
		i.feed.Fail(fmt.Errorf("%w: %w", ErrRelay, err))
	})
	b.SetOnConnect(func() {
		i.logger.Info("device bus connected", "topic", i.pattern)
	})

	if err := b.Subscribe(i.pattern, 1, i.Handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", i.pattern, err)
	}
	return nil
}

// payload is the JSON a device publishes.
type payload struct {
	Estado any `json:"estado"`
	Nivel  any `json:"nivel"`
	Valor  any `json:"valor"`
	TS     any `json:"ts"`
}

// Handle processes one device message. A missing ts is stamped with the
// receive time; a present but unusable ts rejects the sample.
func (i *Ingest) Handle(topic string, body []byte) error {
	deviceID, ok := mqtt.DeviceIDFromTopic(i.pattern, topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	rec, err := i.decode(deviceID, body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if err := i.sink.Append(ctx, rec); err != nil {
		return fmt.Errorf("storing sample for %s: %w", deviceID, err)
	}
	i.feed.Publish(rec)

	i.logger.Debug("sample ingested", "device_id", deviceID, "ts", rec.TS)
	return nil
}

func (i *Ingest) decode(deviceID string, body []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return Record{}, fmt.Errorf("decoding sample for %s: %w", deviceID, err)
	}

	var ms int64
	if p.TS == nil {
		ms = i.now().UnixMilli()
	} else {
		var ok bool
		if ms, ok = TimestampMillis(p.TS); !ok {
			return Record{}, fmt.Errorf("%w: device %s sent ts %v", ErrInvalidTimestamp, deviceID, p.TS)
		}
	}

	return Record{
		DeviceID: deviceID,
		Estado:   p.Estado,
		Nivel:    p.Nivel,
		Valor:    p.Valor,
		TS:       ms,
	}, nil
}
