// Package bus publishes trade events and fills onto NATS for downstream consumers.
package bus

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/signal"
)

// Publisher is the subset of *nats.Conn the bus needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Codec turns an event body into bytes.
type Codec interface {
	Name() string
	Marshal(map[string]any) ([]byte, error)
	Unmarshal([]byte) (map[string]any, error)
}

// JSONCodec encodes bodies as JSON objects.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(body map[string]any) ([]byte, error) { return json.Marshal(body) }

func (JSONCodec) Unmarshal(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProtoCodec encodes bodies as google.protobuf.Struct messages.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(body map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

func (ProtoCodec) Unmarshal(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

// CodecFor maps a config name to a codec; empty means JSON.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown bus codec %q", name)
	}
}

// Connect dials NATS with the reconnect policy used across the live services.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("pairsbot"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Events publishes typed events under one subject prefix. A nil *Events is a no-op.
type Events struct {
	pub     Publisher
	codec   Codec
	subject string
	log     zerolog.Logger
}

// NewEvents wraps a publisher.
func NewEvents(pub Publisher, codec Codec, subject string, log zerolog.Logger) *Events {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Events{pub: pub, codec: codec, subject: subject, log: log}
}

// TradeSubject is where state machine transitions go.
func (e *Events) TradeSubject() string { return e.subject + ".trade" }

// FillSubject is where venue fills go.
func (e *Events) FillSubject() string { return e.subject + ".fill" }

// PublishTrade sends a state machine transition for pair.
func (e *Events) PublishTrade(pair string, ev signal.TradeEvent) error {
	if e == nil {
		return nil
	}
	body := map[string]any{
		"pair":      pair,
		"ts":        ev.Ts.UTC().Format(time.RFC3339Nano),
		"kind":      ev.Label(),
		"direction": ev.Direction.String(),
		"price_a":   ev.PriceA,
		"price_b":   ev.PriceB,
		"fill_a":    ev.FillA,
		"fill_b":    ev.FillB,
		"z":         finite(ev.Z),
		"stop_loss": ev.StopLoss,
	}
	return e.publish(e.TradeSubject(), body)
}

// PublishFill sends a venue fill.
func (e *Events) PublishFill(f execution.Fill) error {
	if e == nil {
		return nil
	}
	body := map[string]any{
		"intent_id": f.IntentID,
		"order_id":  f.OrderID,
		"symbol":    f.Symbol,
		"side":      string(f.Side),
		"qty":       f.Qty,
		"price":     f.Price,
		"ts":        f.Ts.UTC().Format(time.RFC3339Nano),
	}
	return e.publish(e.FillSubject(), body)
}

// Record lets Events sit behind a dispatcher as a FillRecorder.
func (e *Events) Record(f execution.Fill) {
	if err := e.PublishFill(f); err != nil {
		e.log.Warn().Err(err).Str("sym", f.Symbol).Msg("publish fill")
	}
}

func (e *Events) publish(subject string, body map[string]any) error {
	data, err := e.codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := e.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// finite replaces NaN and infinities, which neither JSON nor the struct codec carry.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
