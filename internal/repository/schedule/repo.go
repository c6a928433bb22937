package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/wb-go/wbf/zlog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/autofeeder/bridge/internal/model"
)

const (
	feedersCollection          = "feeders"
	feedingSchedulesCollection = "feedingSchedules"
)

// ErrScheduleNotFound is returned when a claim targets a schedule document
// that no longer exists.
var ErrScheduleNotFound = errors.New("schedule not found")

// errAlreadySent aborts a claim transaction on a schedule another writer got
// to first. It never leaves this package; ClaimSchedule maps it to (false, nil).
var errAlreadySent = errors.New("schedule already sent")

// Repository reads and claims feeding schedules in Firestore.
type Repository struct {
	client *firestore.Client
}

// NewRepository creates a new schedule repository.
func NewRepository(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

// DueSchedules returns every schedule across all feeders with
// scheduledTime <= now and sent == false. Documents not nested under a
// feeder, or that fail to decode, are skipped with a diagnostic.
func (r *Repository) DueSchedules(ctx context.Context, now time.Time) ([]model.FeedingSchedule, error) {
	iter := r.client.CollectionGroup(feedingSchedulesCollection).
		Where("scheduledTime", "<=", now).
		Where("sent", "==", false).
		Documents(ctx)
	defer iter.Stop()

	var due []model.FeedingSchedule
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query due schedules: %w", err)
		}

		feederRef := doc.Ref.Parent.Parent
		if feederRef == nil {
			continue
		}

		var s model.FeedingSchedule
		if err := doc.DataTo(&s); err != nil {
			zlog.Logger.Warn().Err(err).Str("doc", doc.Ref.ID).Msg("skipping malformed schedule document")
			continue
		}

		s.ID = doc.Ref.ID
		s.FeederID = feederRef.ID
		due = append(due, s)
	}

	return due, nil
}

// ClaimSchedule atomically flips sent from false to true using a
// transactional test-and-set. It returns (true, nil) when this caller won
// the claim and (false, nil) when the schedule was already sent, so racing
// dispatcher ticks publish each command at most once.
func (r *Repository) ClaimSchedule(ctx context.Context, feederID, scheduleID string) (bool, error) {
	ref := r.client.Collection(feedersCollection).
		Doc(feederID).
		Collection(feedingSchedulesCollection).
		Doc(scheduleID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrScheduleNotFound
			}
			return err
		}

		if sent, err := snap.DataAt("sent"); err == nil {
			if b, ok := sent.(bool); ok && b {
				return errAlreadySent
			}
		}

		return tx.Update(ref, []firestore.Update{{Path: "sent", Value: true}})
	})

	if errors.Is(err, errAlreadySent) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim schedule %s/%s: %w", feederID, scheduleID, err)
	}

	return true, nil
}
