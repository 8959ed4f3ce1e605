// Package ingest accepts attendance pings published by devices to an MQTT broker.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"devattend/internal/attendance"
)

// DefaultTopic matches attendance/<deviceId>/ping.
const DefaultTopic = "attendance/+/ping"

const (
	connectTimeout = 10 * time.Second
	recordTimeout  = 5 * time.Second
)

// Recorder is the write path pings are handed to.
type Recorder interface {
	Record(ctx context.Context, in attendance.NewRecord) (attendance.Record, error)
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
}

// ping is the MQTT payload. It mirrors the HTTP request body; deviceId may
// be left out when the topic carries it.
type ping struct {
	DeviceID   string   `json:"deviceId"`
	DeviceName string   `json:"deviceName"`
	Timestamp  any      `json:"timestamp"`
	Battery    *float64 `json:"battery"`
}

// Subscriber records every ping published on its topic.
type Subscriber struct {
	client mqtt.Client
	topic  string
	qos    byte
	svc    Recorder
	log    *zap.Logger
	ctx    context.Context
}

// NewSubscriber prepares a client. Nothing connects until Start.
func NewSubscriber(opts Options, svc Recorder, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	s := &Subscriber{topic: opts.Topic, qos: opts.QoS, svc: svc, log: log, ctx: context.Background()}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	// subscriptions do not survive a clean-session reconnect
	o.SetOnConnectHandler(func(c mqtt.Client) {
		if tok := c.Subscribe(s.topic, s.qos, s.handle); tok.Wait() && tok.Error() != nil {
			s.log.Error("mqtt subscribe failed", zap.String("topic", s.topic), zap.Error(tok.Error()))
			return
		}
		s.log.Info("mqtt subscribed", zap.String("topic", s.topic))
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("mqtt connection lost", zap.Error(err))
	})
	s.client = mqtt.NewClient(o)
	return s
}

// Start connects to the broker. Records are written under ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	tok := s.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Stop disconnects, giving in-flight work 250ms.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(s.ctx, recordTimeout)
	defer cancel()

	rec, err := s.ingest(ctx, msg.Topic(), msg.Payload())
	if err != nil {
		s.log.Warn("mqtt ping rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.log.Debug("mqtt ping recorded", zap.String("id", rec.ID), zap.String("device_id", rec.DeviceID))
}

func (s *Subscriber) ingest(ctx context.Context, topic string, payload []byte) (attendance.Record, error) {
	var p ping
	if err := json.Unmarshal(payload, &p); err != nil {
		return attendance.Record{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.DeviceID == "" {
		p.DeviceID = deviceFromTopic(s.topic, topic)
	}
	if p.Timestamp == nil {
		return attendance.Record{}, fmt.Errorf("%w: timestamp required", attendance.ErrValidation)
	}
	ts, ok := attendance.ParseWireTimestamp(p.Timestamp)
	if !ok {
		return attendance.Record{}, fmt.Errorf("%w: unparseable timestamp", attendance.ErrValidation)
	}
	return s.svc.Record(ctx, attendance.NewRecord{
		DeviceID:   p.DeviceID,
		DeviceName: p.DeviceName,
		Timestamp:  ts,
		Battery:    p.Battery,
	})
}

// deviceFromTopic returns the topic level matched by the first single-level
// wildcard of pattern.
func deviceFromTopic(pattern, topic string) string {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	for i, level := range want {
		if level == "+" && i < len(got) {
			return got[i]
		}
	}
	return ""
}
