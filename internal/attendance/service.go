package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"devattend/internal/queue"
)

// RecordedEvent is the queue message type published after every insert.
const RecordedEvent = "attendance.recorded"

// Publisher receives a message for every stored record.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// NewRecord is the write-path input. Timestamp is the moment of the ping.
type NewRecord struct {
	DeviceID   string
	DeviceName string
	Timestamp  time.Time
	Battery    *float64
}

// Service coordinates the write path and both query paths.
type Service struct {
	store   Store
	series  *SeriesAggregator
	events  Publisher
	log     *zap.Logger
	tracer  trace.Tracer
	clock   quartz.Clock
	maxDays int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where RecordedEvent messages go. Without one nothing is published.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces the wall clock used for the stats window.
func WithClock(c quartz.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMaxDays clamps the stats window. n <= 0 means DefaultMaxStatsDays.
func WithMaxDays(n int) Option {
	return func(s *Service) { s.maxDays = n }
}

// NewService creates a service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    zap.NewNop(),
		tracer: otel.Tracer("devattend/attendance"),
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.series = NewSeriesAggregator(store, s.clock, s.maxDays)
	return s
}

// Record validates in and stores it as a new record.
func (s *Service) Record(ctx context.Context, in NewRecord) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.Record",
		trace.WithAttributes(attribute.String("device.id", in.DeviceID)))
	defer span.End()

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return Record{}, fmt.Errorf("%w: deviceId required", ErrValidation)
	}
	if in.Timestamp.IsZero() {
		return Record{}, fmt.Errorf("%w: timestamp required", ErrValidation)
	}
	if !InRange(in.Timestamp) {
		return Record{}, fmt.Errorf("%w: timestamp out of range", ErrValidation)
	}

	rec, err := s.store.Insert(ctx, Record{
		DeviceID:   deviceID,
		DeviceName: in.DeviceName,
		Timestamp:  in.Timestamp.UTC(),
		Battery:    in.Battery,
	})
	if err != nil {
		failSpan(span, err)
		return Record{}, err
	}

	s.publish(ctx, rec)
	return rec, nil
}

// List returns records matching the raw query parameters, newest first.
func (s *Service) List(ctx context.Context, p FilterParams) ([]Record, error) {
	f := BuildFilter(p)

	ctx, span := s.tracer.Start(ctx, "attendance.List", trace.WithAttributes(
		attribute.String("device.id", f.DeviceID),
		attribute.Int("list.limit", f.Limit),
	))
	defer span.End()

	recs, err := s.store.Find(ctx, f)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// DailyCounts returns the dense per-day series for the raw days parameter.
func (s *Service) DailyCounts(ctx context.Context, rawDays string) ([]DayPoint, error) {
	days := ParseDays(rawDays)

	ctx, span := s.tracer.Start(ctx, "attendance.DailyCounts",
		trace.WithAttributes(attribute.Int("stats.days", days)))
	defer span.End()

	points, err := s.series.Series(ctx, days)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	return points, nil
}

// publish is best effort: a queue failure never fails the write.
func (s *Service) publish(ctx context.Context, rec Record) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("encode recorded event failed", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: RecordedEvent, Body: body}); err != nil {
		s.log.Warn("queue publish failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
