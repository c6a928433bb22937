package feeder

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/autofeeder/bridge/internal/model"
)

const (
	feedersCollection     = "feeders"
	feedingLogsCollection = "feedingLogs"
)

// Repository persists feeder state and feeding logs in Firestore.
type Repository struct {
	client *firestore.Client
}

// NewRepository creates a new feeder repository.
func NewRepository(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

// MergeFeeder applies a field-scoped merge to the feeder document. Only the
// given fields are written; everything else on the document is untouched. The
// document is created if it does not exist yet.
func (r *Repository) MergeFeeder(ctx context.Context, feederID string, fields map[string]interface{}) error {
	_, err := r.client.Collection(feedersCollection).Doc(feederID).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to merge feeder %s: %w", feederID, err)
	}

	return nil
}

// AppendFeedingLog creates one immutable log entry under the feeder. The
// entry timestamp is assigned by the server on write.
func (r *Repository) AppendFeedingLog(ctx context.Context, feederID string, entry model.FeedingLogEntry) error {
	doc := r.client.Collection(feedersCollection).
		Doc(feederID).
		Collection(feedingLogsCollection).
		Doc(uuid.NewString())

	if _, err := doc.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to append feeding log for feeder %s: %w", feederID, err)
	}

	return nil
}
