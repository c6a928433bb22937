// Package worker drains the inbound telemetry channel with a pool of
// goroutines so one slow store call never blocks the next delivery.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/autofeeder/bridge/internal/mqtt"
	"github.com/autofeeder/bridge/internal/router"
)

type telemetryHandler interface {
	Handle(ctx context.Context, topic, payload string) error
}

// Listener routes inbound messages to the telemetry handler.
type Listener struct {
	handler telemetryHandler
}

// NewListener creates a listener over the given handler.
func NewListener(h telemetryHandler) *Listener {
	return &Listener{handler: h}
}

// Run consumes messages with workerCount goroutines until ctx is cancelled or
// messages is closed. Handler errors are logged and the message is considered
// handled; the broker already delivered it and the bridge never re-queues.
func (l *Listener) Run(ctx context.Context, messages <-chan mqtt.Message, workerCount int) {
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()
			zlog.Logger.Printf("telemetry worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("telemetry worker-%d shutting down", id)
					return
				case msg, ok := <-messages:
					if !ok {
						return
					}

					l.handle(ctx, msg)
				}
			}
		}(i)
	}

	wg.Wait()
	zlog.Logger.Print("telemetry listener stopped")
}

// messageTimeout bounds the store and mail calls made for one message.
const messageTimeout = 30 * time.Second

func (l *Listener) handle(ctx context.Context, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	err := l.handler.Handle(ctx, msg.Topic, msg.Payload)
	if err == nil {
		return
	}

	// Malformed input is discarded with a diagnostic; anything else is a
	// failed external call for this one message.
	switch {
	case errors.Is(err, router.ErrInvalidTopic),
		errors.Is(err, router.ErrUnknownMetric),
		errors.Is(err, router.ErrBadPayload):
		zlog.Logger.Warn().Err(err).Msg("telemetry discarded")
	default:
		zlog.Logger.Error().Err(err).Str("topic", msg.Topic).Msg("failed to handle telemetry")
	}
}
