package attendance_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"devattend/internal/attendance"
	"devattend/internal/queue"
)

// MockStore is a testify mock of attendance.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(attendance.Record), args.Error(1)
}

func (m *MockStore) Find(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]attendance.Record), args.Error(1)
}

func (m *MockStore) CountByDay(ctx context.Context, since time.Time) ([]attendance.DayCount, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]attendance.DayCount), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockStore) Close() error { return m.Called().Error(0) }

func TestService_RecordValidation(t *testing.T) {
	t.Parallel()

	svc := attendance.NewService(attendance.NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.Record(ctx, attendance.NewRecord{Timestamp: time.Now()})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = svc.Record(ctx, attendance.NewRecord{DeviceID: "   ", Timestamp: time.Now()})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = svc.Record(ctx, attendance.NewRecord{DeviceID: "dev1"})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = svc.Record(ctx, attendance.NewRecord{DeviceID: "dev1", Timestamp: time.UnixMilli(1e17)})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	recs, err := svc.List(ctx, attendance.FilterParams{})
	require.NoError(t, err)
	assert.Empty(t, recs, "rejected writes must not persist")
}

func TestService_RecordPublishes(t *testing.T) {
	t.Parallel()

	q := queue.NewInMemory(4)
	svc := attendance.NewService(attendance.NewMemoryRepository(), attendance.WithPublisher(q))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := svc.Record(ctx, attendance.NewRecord{
		DeviceID:  "dev1",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)),
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, attendance.RecordedEvent, msg.Type)
		var got attendance.Record
		require.NoError(t, json.Unmarshal(msg.Body, &got))
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "dev1", got.DeviceID)
	case <-ctx.Done():
		t.Fatal("no message published")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, queue.Message) error {
	return errors.New("queue down")
}

func TestService_PublishFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()

	svc := attendance.NewService(attendance.NewMemoryRepository(), attendance.WithPublisher(failingPublisher{}))
	_, err := svc.Record(context.Background(), attendance.NewRecord{DeviceID: "dev1", Timestamp: time.Now()})
	assert.NoError(t, err)
}

func TestService_ListMostRecent(t *testing.T) {
	t.Parallel()

	svc := attendance.NewService(attendance.NewMemoryRepository())
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := svc.Record(ctx, attendance.NewRecord{
			DeviceID:  "dev1",
			Timestamp: time.Date(2024, 1, i, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, attendance.NewRecord{DeviceID: "dev2", Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	recs, err := svc.List(ctx, attendance.FilterParams{DeviceID: "dev1", Limit: "2"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 5, recs[0].Timestamp.Day())
	assert.Equal(t, 4, recs[1].Timestamp.Day())
}

func TestService_ListEmptyIsNotNil(t *testing.T) {
	t.Parallel()

	st := new(MockStore)
	st.On("Find", mock.Anything, mock.Anything).Return(nil, nil)

	recs, err := attendance.NewService(st).List(context.Background(), attendance.FilterParams{})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestService_ListPassesBuiltFilter(t *testing.T) {
	t.Parallel()

	st := new(MockStore)
	st.On("Find", mock.Anything, mock.MatchedBy(func(f attendance.Filter) bool {
		return f.DeviceID == "dev9" && f.Limit == attendance.DefaultListLimit && f.From != nil && f.To == nil
	})).Return([]attendance.Record{{ID: "r1"}}, nil)

	recs, err := attendance.NewService(st).List(context.Background(), attendance.FilterParams{
		DeviceID: "dev9",
		From:     "2024-01-01",
		To:       "garbage",
		Limit:    "-1",
	})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	st.AssertExpectations(t)
}

func TestService_StoreErrors(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("dial tcp: %w", errors.New("connection refused"))
	st := new(MockStore)
	st.On("Insert", mock.Anything, mock.Anything).Return(attendance.Record{}, boom)
	st.On("Find", mock.Anything, mock.Anything).Return(nil, boom)
	st.On("CountByDay", mock.Anything, mock.Anything).Return(nil, boom)

	svc := attendance.NewService(st, attendance.WithClock(quartz.NewMock(t)))
	ctx := context.Background()

	_, err := svc.Record(ctx, attendance.NewRecord{DeviceID: "dev1", Timestamp: time.Now()})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, attendance.ErrValidation)

	recs, err := svc.List(ctx, attendance.FilterParams{})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, recs)

	points, err := svc.DailyCounts(ctx, "7")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, points)
}

func TestService_DailyCounts(t *testing.T) {
	t.Parallel()

	mClock := quartz.NewMock(t)
	mClock.Set(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)).MustWait(context.Background())

	repo := attendance.NewMemoryRepository()
	svc := attendance.NewService(repo, attendance.WithClock(mClock))
	ctx := context.Background()
	for _, ts := range []string{"2024-01-01T01:00:00Z", "2024-01-01T02:00:00Z", "2024-01-03T03:00:00Z"} {
		_, err := svc.Record(ctx, attendance.NewRecord{DeviceID: "dev1", Timestamp: at(t, ts)})
		require.NoError(t, err)
	}

	points, err := svc.DailyCounts(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, []attendance.DayPoint{
		{Date: "2024-01-01", Count: 2},
		{Date: "2024-01-02", Count: 0},
		{Date: "2024-01-03", Count: 1},
	}, points)

	points, err = svc.DailyCounts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, points, attendance.DefaultStatsDays)
}
