package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/internal/repository"
)

// FirestoreSource listens to real-time snapshots of the users collection.
// The first snapshot lists every document as added, which seeds the
// listener's follower cache.
type FirestoreSource struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestoreSource(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreSource {
	if collection == "" {
		collection = "users"
	}
	return &FirestoreSource{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

func (s *FirestoreSource) Name() string {
	return "firestore"
}

func (s *FirestoreSource) Subscribe(ctx context.Context, emit EmitFunc) error {
	it := s.client.Collection(s.collection).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("firestore snapshot on %s: %w", s.collection, err)
		}

		batch := s.toBatch(snap)
		if len(batch.Events) == 0 {
			continue
		}
		if err := emit(ctx, batch); err != nil {
			return nil
		}
	}
}

func (s *FirestoreSource) toBatch(snap *firestore.QuerySnapshot) models.ChangeBatch {
	batch := models.ChangeBatch{
		Source:     s.Name(),
		Events:     make([]models.ChangeEvent, 0, len(snap.Changes)),
		ReceivedAt: time.Now(),
	}
	for _, change := range snap.Changes {
		kind := kindFromFirestore(change.Kind)
		if kind == models.ChangeUnknown || change.Doc == nil || change.Doc.Ref == nil {
			continue
		}

		ev := models.ChangeEvent{
			Kind:       kind,
			DocumentID: change.Doc.Ref.ID,
			ObservedAt: snap.ReadTime,
		}
		if kind != models.ChangeRemoved {
			rec, err := repository.DecodeUserSnapshot(change.Doc)
			if err != nil {
				s.logger.Warn("skipping undecodable user document",
					slog.String("document_id", ev.DocumentID),
					slog.Any("error", err),
				)
				continue
			}
			ev.Current = rec
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch
}

func kindFromFirestore(kind firestore.DocumentChangeKind) models.ChangeKind {
	switch kind {
	case firestore.DocumentAdded:
		return models.ChangeAdded
	case firestore.DocumentModified:
		return models.ChangeModified
	case firestore.DocumentRemoved:
		return models.ChangeRemoved
	default:
		return models.ChangeUnknown
	}
}
