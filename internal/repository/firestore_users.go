package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// FirestoreUserStore reads user documents from a Firestore collection.
type FirestoreUserStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreUserStore(client *firestore.Client, collection string) *FirestoreUserStore {
	if collection == "" {
		collection = "users"
	}
	return &FirestoreUserStore{client: client, collection: collection}
}

func (s *FirestoreUserStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return DecodeUserSnapshot(snap)
}

// DecodeUserSnapshot converts a Firestore document into a UserRecord.
func DecodeUserSnapshot(snap *firestore.DocumentSnapshot) (*models.UserRecord, error) {
	if snap == nil || snap.Ref == nil {
		return nil, fmt.Errorf("decode user: empty snapshot")
	}
	var rec models.UserRecord
	if snap.Exists() {
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
		}
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}
