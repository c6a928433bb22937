// Package dispatcher periodically sweeps due, unsent feeding schedules and
// publishes a command to each owning feeder.
//
// A schedule is claimed (sent flipped false to true atomically) before its
// command is published. Losing the claim means another tick or instance
// already handled it. A publish failure after a won claim drops the command
// rather than risking a duplicate feeding; the device will be fed on the next
// schedule, not twice on this one.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/autofeeder/bridge/internal/model"
)

// commandPayload is the fixed device command contract. The firmware treats
// any publication on its cmd topic as "dispense the configured portion".
const commandPayload = "feed"

type scheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]model.FeedingSchedule, error)
	// ClaimSchedule atomically flips sent from false to true. It returns
	// false with no error when the schedule was already sent.
	ClaimSchedule(ctx context.Context, feederID, scheduleID string) (bool, error)
}

type commandPublisher interface {
	Publish(topic string, payload []byte) error
}

// Dispatcher pushes due feeding commands to devices on a fixed interval.
type Dispatcher struct {
	schedules scheduleStore
	publisher commandPublisher
	prefix    string
	interval  time.Duration
}

// New creates a dispatcher publishing to {prefix}/{feederId}/cmd.
func New(schedules scheduleStore, publisher commandPublisher, prefix string, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		schedules: schedules,
		publisher: publisher,
		prefix:    prefix,
		interval:  interval,
	}
}

// Run ticks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	zlog.Logger.Info().Dur("interval", d.interval).Msg("schedule dispatcher started")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("schedule dispatcher stopped")
			return
		case <-ticker.C:
			// A sweep gets one interval's worth of time; a stalled
			// store call must not pile ticks up behind it.
			sweepCtx, cancel := context.WithTimeout(ctx, d.interval)
			d.DispatchDue(sweepCtx, time.Now())
			cancel()
		}
	}
}

// DispatchDue runs one sweep: query everything due at now and still unsent,
// then claim and publish each. Safe to call from overlapping ticks; the claim
// guarantees at most one publish per schedule.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) {
	due, err := d.schedules.DueSchedules(ctx, now)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to query due schedules")
		return
	}

	for _, s := range due {
		claimed, err := d.schedules.ClaimSchedule(ctx, s.FeederID, s.ID)
		if err != nil {
			zlog.Logger.Error().Err(err).
				Str("feeder_id", s.FeederID).
				Str("schedule_id", s.ID).
				Msg("failed to claim schedule")
			continue
		}

		if !claimed {
			zlog.Logger.Debug().
				Str("feeder_id", s.FeederID).
				Str("schedule_id", s.ID).
				Msg("schedule already handled, skipping")
			continue
		}

		topic := fmt.Sprintf("%s/%s/cmd", d.prefix, s.FeederID)
		if err := d.publisher.Publish(topic, []byte(commandPayload)); err != nil {
			// The claim stands: dropping one command beats double-feeding.
			zlog.Logger.Error().Err(err).
				Str("feeder_id", s.FeederID).
				Str("schedule_id", s.ID).
				Msg("failed to publish feed command, schedule stays marked sent")
			continue
		}

		zlog.Logger.Info().
			Str("feeder_id", s.FeederID).
			Str("schedule_id", s.ID).
			Time("scheduled_time", s.ScheduledTime).
			Msg("feed command published")
	}
}
