package user

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/wb-go/wbf/zlog"
	"google.golang.org/api/iterator"

	"github.com/autofeeder/bridge/internal/model"
)

const usersCollection = "users"

// Repository reads user records from Firestore. Users are owned by an
// external registration flow; the bridge never writes them.
type Repository struct {
	client *firestore.Client
}

// NewRepository creates a new user repository.
func NewRepository(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

// UsersByFeeder returns every user whose feederId matches. An empty result is
// not an error. Malformed user documents are skipped with a diagnostic so one
// bad record never blocks notification fan-out to the rest.
func (r *Repository) UsersByFeeder(ctx context.Context, feederID string) ([]model.User, error) {
	iter := r.client.Collection(usersCollection).
		Where("feederId", "==", feederID).
		Documents(ctx)
	defer iter.Stop()

	var users []model.User
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query users for feeder %s: %w", feederID, err)
		}

		var u model.User
		if err := doc.DataTo(&u); err != nil {
			zlog.Logger.Warn().Err(err).Str("doc", doc.Ref.ID).Msg("skipping malformed user document")
			continue
		}

		u.ID = doc.Ref.ID
		users = append(users, u)
	}

	return users, nil
}
