// Package router translates inbound device telemetry into record store
// mutations, feeding log entries, and user notifications.
//
// Delivery from the broker is at-least-once: a redelivered feed event produces
// a second log entry. Deduplication would need a device-supplied event key,
// which the firmware does not send today.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/autofeeder/bridge/internal/model"
)

var (
	// ErrInvalidTopic marks a topic that does not match {prefix}/{feederId}/{metric}.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrUnknownMetric marks a well-formed topic whose metric has no handler.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrBadPayload marks a payload that failed to parse for a metric that
	// requires a valid value.
	ErrBadPayload = errors.New("bad payload")
)

type feederStore interface {
	MergeFeeder(ctx context.Context, feederID string, fields map[string]interface{}) error
	AppendFeedingLog(ctx context.Context, feederID string, entry model.FeedingLogEntry) error
}

type notifier interface {
	Notify(ctx context.Context, feederID, subject, body, category string) error
}

// metricHandler is one row of the routing table. Exactly one of the two
// variants is set: snapshot metrics return a field-scoped merge that Handle
// applies once, terminal event metrics perform their own writes and never
// fall through to the merge. A row with neither set is outbound-only and
// is ignored.
type metricHandler struct {
	snapshot func(ctx context.Context, feederID, payload string) (map[string]interface{}, error)
	event    func(ctx context.Context, feederID, payload string) error
}

// Router consumes inbound telemetry messages and dispatches them by metric.
type Router struct {
	feeders          feederStore
	notifier         notifier
	prefix           string
	lowFoodThreshold float64
	handlers         map[string]metricHandler
}

// New creates a telemetry router. lowFoodThreshold is the weight (grams) at
// or below which a weight report triggers a low-food alert.
func New(feeders feederStore, n notifier, prefix string, lowFoodThreshold float64) *Router {
	r := &Router{
		feeders:          feeders,
		notifier:         n,
		prefix:           prefix,
		lowFoodThreshold: lowFoodThreshold,
	}

	r.handlers = map[string]metricHandler{
		"status":        {snapshot: r.statusSnapshot},
		"bowl":          {snapshot: r.bowlSnapshot},
		"portion":       {snapshot: r.portionSnapshot},
		"weight":        {snapshot: r.weightSnapshot},
		"storage_low":   {snapshot: r.storageLowSnapshot},
		"storage_empty": {snapshot: r.storageEmptySnapshot},

		"feed_completed": {event: r.feedEvent("feed_completed", model.FeedingCompleted, false)},
		"fed":            {event: r.feedEvent("fed", model.FeedingCompleted, false)},
		"feed_failed":    {event: r.feedEvent("feed_failed", model.FeedingFailed, true)},

		"feed_skipped":                {event: r.feedEvent("feed_skipped", model.FeedingSkipped, false)},
		"feed_rejected_no_portion":    {event: r.feedEvent("feed_rejected_no_portion", model.FeedingRejectedNoPortion, false)},
		"feed_rejected_empty_storage": {event: r.feedEvent("feed_rejected_empty_storage", model.FeedingRejectedEmptyStorage, false)},
		"feed_rejected_busy":          {event: r.feedEvent("feed_rejected_busy", model.FeedingRejectedBusy, false)},

		// Outbound command topic; a device should never produce it.
		"cmd": {},
	}

	return r
}

// Handle routes one inbound message. Malformed topics, unknown metrics, and
// unparseable payloads come back as classified errors; the caller decides how
// to log them. No error here is fatal and the message is never redelivered by
// the bridge itself.
func (r *Router) Handle(ctx context.Context, topic, payload string) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != r.prefix {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	feederID, metric := parts[1], parts[2]

	h, ok := r.handlers[metric]
	if !ok {
		return fmt.Errorf("%w: %q for feeder %s", ErrUnknownMetric, metric, feederID)
	}

	switch {
	case h.event != nil:
		return h.event(ctx, feederID, payload)
	case h.snapshot != nil:
		fields, err := h.snapshot(ctx, feederID, payload)
		if err != nil {
			return err
		}

		if err := r.feeders.MergeFeeder(ctx, feederID, fields); err != nil {
			return fmt.Errorf("failed to merge feeder %s: %w", feederID, err)
		}

		zlog.Logger.Debug().Str("feeder_id", feederID).Interface("fields", fields).Msg("feeder state updated")
		return nil
	default:
		return nil
	}
}

func (r *Router) statusSnapshot(_ context.Context, _ string, payload string) (map[string]interface{}, error) {
	return map[string]interface{}{"status": payload}, nil
}

// bowlSnapshot merges the bowl level even when the payload fails to parse,
// in which case the stored value is NaN. Kept from the original device
// contract: a garbled bowl report still marks the level as unknown.
func (r *Router) bowlSnapshot(_ context.Context, _ string, payload string) (map[string]interface{}, error) {
	level, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		level = math.NaN()
	}

	return map[string]interface{}{"bowlLevel": level}, nil
}

func (r *Router) portionSnapshot(_ context.Context, _ string, payload string) (map[string]interface{}, error) {
	portion, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: portion %q", ErrBadPayload, payload)
	}

	return map[string]interface{}{"lastPortion": portion}, nil
}

func (r *Router) weightSnapshot(ctx context.Context, feederID, payload string) (map[string]interface{}, error) {
	weight, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: weight %q", ErrBadPayload, payload)
	}

	if weight <= r.lowFoodThreshold {
		r.notify(ctx, feederID,
			"Low Food Alert",
			"Your feeder is running low on food. Please refill it soon.",
			model.SettingLowFoodAlerts,
		)
	}

	return map[string]interface{}{"currentWeight": weight}, nil
}

func (r *Router) storageLowSnapshot(ctx context.Context, feederID, _ string) (map[string]interface{}, error) {
	r.notify(ctx, feederID,
		"Low Food Alert",
		"Your feeder is running low on food. Please refill it soon.",
		model.SettingLowFoodAlerts,
	)

	return map[string]interface{}{"storageState": string(model.StorageLow)}, nil
}

func (r *Router) storageEmptySnapshot(ctx context.Context, feederID, _ string) (map[string]interface{}, error) {
	r.notify(ctx, feederID,
		"Food Empty Alert",
		"Your feeder is out of food. Feeding cannot continue until it is refilled.",
		model.SettingLowFoodAlerts,
	)

	return map[string]interface{}{"storageState": string(model.StorageEmpty)}, nil
}

// feedEvent builds the terminal handler for one feeding outcome. The log
// entry is written first; if that write fails the notification is suppressed,
// preferring a missing record over a misleading one. defaultZero makes an
// unparseable portion read as 0 instead of aborting (feed_failed reports the
// attempted portion on a best-effort basis).
func (r *Router) feedEvent(metric string, status model.FeedingStatus, defaultZero bool) func(ctx context.Context, feederID, payload string) error {
	return func(ctx context.Context, feederID, payload string) error {
		portion, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			if !defaultZero {
				return fmt.Errorf("%w: %s %q", ErrBadPayload, metric, payload)
			}
			portion = 0
		}

		entry := model.FeedingLogEntry{
			PortionSize: portion,
			Source:      model.LogSourceDevice,
			Status:      status,
		}

		if err := r.feeders.AppendFeedingLog(ctx, feederID, entry); err != nil {
			return fmt.Errorf("failed to append feeding log for %s: %w", feederID, err)
		}

		subject, body := feedingMessage(status, portion)
		r.notify(ctx, feederID, subject, body, model.SettingFeedingReminders)

		zlog.Logger.Info().
			Str("feeder_id", feederID).
			Str("status", string(status)).
			Float64("portion", portion).
			Msg("feeding event logged")

		return nil
	}
}

func feedingMessage(status model.FeedingStatus, portion float64) (subject, body string) {
	switch status {
	case model.FeedingCompleted:
		return "Pet Feeding Completed",
			fmt.Sprintf("Your pet was fed %g grams.", portion)
	case model.FeedingFailed:
		return "Pet Feeding Failed",
			fmt.Sprintf("A scheduled feeding of %g grams could not be completed. Please check your feeder.", portion)
	case model.FeedingSkipped:
		return "Pet Feeding Issue",
			fmt.Sprintf("A feeding of %g grams was skipped.", portion)
	case model.FeedingRejectedNoPortion:
		return "Pet Feeding Issue",
			fmt.Sprintf("Feeding rejected: no portion specified (%g g).", portion)
	case model.FeedingRejectedEmptyStorage:
		return "Pet Feeding Issue",
			fmt.Sprintf("Feeding rejected: storage is empty (%g g requested).", portion)
	case model.FeedingRejectedBusy:
		return "Pet Feeding Issue",
			fmt.Sprintf("Feeding rejected: feeder was busy (%g g requested).", portion)
	default:
		return "Pet Feeding Issue", fmt.Sprintf("Feeding reported status %q (%g g).", status, portion)
	}
}

// notify delivers best-effort: a gateway failure is logged and the message is
// still considered handled.
func (r *Router) notify(ctx context.Context, feederID, subject, body, category string) {
	if err := r.notifier.Notify(ctx, feederID, subject, body, category); err != nil {
		zlog.Logger.Error().Err(err).Str("feeder_id", feederID).Str("subject", subject).Msg("failed to notify users")
	}
}
