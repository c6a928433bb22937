package router

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autofeeder/bridge/internal/model"
)

type mergeCall struct {
	feederID string
	fields   map[string]interface{}
}

type logCall struct {
	feederID string
	entry    model.FeedingLogEntry
}

type fakeFeederStore struct {
	merges   []mergeCall
	logs     []logCall
	mergeErr error
	logErr   error
}

func (f *fakeFeederStore) MergeFeeder(_ context.Context, feederID string, fields map[string]interface{}) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merges = append(f.merges, mergeCall{feederID: feederID, fields: fields})
	return nil
}

func (f *fakeFeederStore) AppendFeedingLog(_ context.Context, feederID string, entry model.FeedingLogEntry) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, logCall{feederID: feederID, entry: entry})
	return nil
}

type notification struct {
	feederID string
	subject  string
	body     string
	category string
}

type fakeNotifier struct {
	notifications []notification
	err           error
}

func (f *fakeNotifier) Notify(_ context.Context, feederID, subject, body, category string) error {
	if f.err != nil {
		return f.err
	}
	f.notifications = append(f.notifications, notification{feederID, subject, body, category})
	return nil
}

func setupRouter(threshold float64) (*Router, *fakeFeederStore, *fakeNotifier) {
	store := &fakeFeederStore{}
	n := &fakeNotifier{}
	return New(store, n, "autofeeder", threshold), store, n
}

func TestHandle_InvalidTopic(t *testing.T) {
	r, store, n := setupRouter(20)

	for _, topic := range []string{
		"autofeeder/f1",
		"autofeeder/f1/weight/extra",
		"otherprefix/f1/weight",
		"weight",
		"",
	} {
		err := r.Handle(context.Background(), topic, "1.0")
		assert.ErrorIs(t, err, ErrInvalidTopic, "topic %q", topic)
	}

	assert.Empty(t, store.merges)
	assert.Empty(t, store.logs)
	assert.Empty(t, n.notifications)
}

func TestHandle_UnknownMetric(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f3/unknown_metric", "42")
	assert.ErrorIs(t, err, ErrUnknownMetric)
	assert.Empty(t, store.merges)
	assert.Empty(t, store.logs)
	assert.Empty(t, n.notifications)
}

func TestHandle_CmdIgnored(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/cmd", "feed")
	assert.NoError(t, err)
	assert.Empty(t, store.merges)
	assert.Empty(t, store.logs)
	assert.Empty(t, n.notifications)
}

func TestHandle_SnapshotMetricsAreFieldScoped(t *testing.T) {
	tests := []struct {
		metric  string
		payload string
		fields  map[string]interface{}
	}{
		{"status", "idle", map[string]interface{}{"status": "idle"}},
		{"bowl", "42.5", map[string]interface{}{"bowlLevel": 42.5}},
		{"portion", "12.5", map[string]interface{}{"lastPortion": 12.5}},
		{"storage_low", "", map[string]interface{}{"storageState": "LOW"}},
		{"storage_empty", "", map[string]interface{}{"storageState": "EMPTY"}},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			r, store, _ := setupRouter(20)

			err := r.Handle(context.Background(), "autofeeder/f1/"+tt.metric, tt.payload)
			require.NoError(t, err)
			require.Len(t, store.merges, 1)
			assert.Equal(t, "f1", store.merges[0].feederID)
			assert.Equal(t, tt.fields, store.merges[0].fields)
			assert.Empty(t, store.logs)
		})
	}
}

func TestHandle_BowlUnparseableMergesNaN(t *testing.T) {
	r, store, _ := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/bowl", "not-a-number")
	require.NoError(t, err)
	require.Len(t, store.merges, 1)

	level, ok := store.merges[0].fields["bowlLevel"].(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(level))
}

func TestHandle_WeightBelowThresholdAlerts(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/weight", "15.2")
	require.NoError(t, err)

	require.Len(t, store.merges, 1)
	assert.Equal(t, map[string]interface{}{"currentWeight": 15.2}, store.merges[0].fields)

	require.Len(t, n.notifications, 1)
	assert.Equal(t, "f1", n.notifications[0].feederID)
	assert.Equal(t, "Low Food Alert", n.notifications[0].subject)
	assert.Equal(t, model.SettingLowFoodAlerts, n.notifications[0].category)
}

func TestHandle_WeightAboveThresholdNoAlert(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/weight", "35.0")
	require.NoError(t, err)
	require.Len(t, store.merges, 1)
	assert.Empty(t, n.notifications)
}

func TestHandle_WeightUnparseableAbortsWithoutWrite(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/weight", "garbage")
	assert.ErrorIs(t, err, ErrBadPayload)
	assert.Empty(t, store.merges)
	assert.Empty(t, n.notifications)
}

func TestHandle_StorageEmptyAlert(t *testing.T) {
	r, _, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/storage_empty", "")
	require.NoError(t, err)
	require.Len(t, n.notifications, 1)
	assert.Equal(t, "Food Empty Alert", n.notifications[0].subject)
	assert.Equal(t, model.SettingLowFoodAlerts, n.notifications[0].category)
}

func TestHandle_FeedCompleted(t *testing.T) {
	for _, metric := range []string{"feed_completed", "fed"} {
		t.Run(metric, func(t *testing.T) {
			r, store, n := setupRouter(20)

			err := r.Handle(context.Background(), "autofeeder/f2/"+metric, "12.5")
			require.NoError(t, err)

			require.Len(t, store.logs, 1)
			assert.Equal(t, "f2", store.logs[0].feederID)
			assert.Equal(t, 12.5, store.logs[0].entry.PortionSize)
			assert.Equal(t, model.FeedingCompleted, store.logs[0].entry.Status)
			assert.Equal(t, model.LogSourceDevice, store.logs[0].entry.Source)

			// Event metrics never fall through to the generic merge.
			assert.Empty(t, store.merges)

			require.Len(t, n.notifications, 1)
			assert.Equal(t, "Pet Feeding Completed", n.notifications[0].subject)
			assert.Equal(t, model.SettingFeedingReminders, n.notifications[0].category)
			assert.Contains(t, n.notifications[0].body, "12.5")
		})
	}
}

func TestHandle_FeedFailedDefaultsPortionToZero(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/feed_failed", "garbage")
	require.NoError(t, err)

	require.Len(t, store.logs, 1)
	assert.Equal(t, 0.0, store.logs[0].entry.PortionSize)
	assert.Equal(t, model.FeedingFailed, store.logs[0].entry.Status)

	require.Len(t, n.notifications, 1)
	assert.Equal(t, "Pet Feeding Failed", n.notifications[0].subject)
}

func TestHandle_FeedEventUnparseableAborts(t *testing.T) {
	r, store, n := setupRouter(20)

	err := r.Handle(context.Background(), "autofeeder/f1/feed_completed", "abc")
	assert.ErrorIs(t, err, ErrBadPayload)
	assert.Empty(t, store.logs)
	assert.Empty(t, n.notifications)
}

func TestHandle_RejectedAndSkippedStatuses(t *testing.T) {
	tests := []struct {
		metric string
		status model.FeedingStatus
	}{
		{"feed_skipped", model.FeedingSkipped},
		{"feed_rejected_no_portion", model.FeedingRejectedNoPortion},
		{"feed_rejected_empty_storage", model.FeedingRejectedEmptyStorage},
		{"feed_rejected_busy", model.FeedingRejectedBusy},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			r, store, n := setupRouter(20)

			err := r.Handle(context.Background(), "autofeeder/f1/"+tt.metric, "7.5")
			require.NoError(t, err)

			require.Len(t, store.logs, 1)
			assert.Equal(t, tt.status, store.logs[0].entry.Status)
			assert.Equal(t, 7.5, store.logs[0].entry.PortionSize)

			require.Len(t, n.notifications, 1)
			assert.Equal(t, "Pet Feeding Issue", n.notifications[0].subject)
		})
	}
}

func TestHandle_LogWriteFailureSuppressesNotification(t *testing.T) {
	store := &fakeFeederStore{logErr: errors.New("store down")}
	n := &fakeNotifier{}
	r := New(store, n, "autofeeder", 20)

	err := r.Handle(context.Background(), "autofeeder/f1/feed_completed", "10")
	assert.Error(t, err)
	assert.Empty(t, n.notifications)
}

func TestHandle_MergeFailureReturnsError(t *testing.T) {
	store := &fakeFeederStore{mergeErr: errors.New("store down")}
	n := &fakeNotifier{}
	r := New(store, n, "autofeeder", 20)

	err := r.Handle(context.Background(), "autofeeder/f1/bowl", "10")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTopic)
	assert.NotErrorIs(t, err, ErrBadPayload)
}

func TestHandle_ReplayedEventProducesSecondLogEntry(t *testing.T) {
	// At-least-once delivery: a redelivered feed event is logged twice.
	// Known limitation until the firmware sends a dedup key.
	r, store, _ := setupRouter(20)

	require.NoError(t, r.Handle(context.Background(), "autofeeder/f1/feed_completed", "5"))
	require.NoError(t, r.Handle(context.Background(), "autofeeder/f1/feed_completed", "5"))
	assert.Len(t, store.logs, 2)
}
