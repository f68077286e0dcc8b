package docstore

import (
	"context"
	"fmt"
	"reflect"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cairn/models"
	"cairn/schema"
)

// FirestoreStore implements Store on Cloud Firestore.
type FirestoreStore struct {
	client  *firestore.Client
	schemas *schema.Registry
	logger  *zap.Logger
}

func NewFirestoreStore(ctx context.Context, projectID, serviceAccountJSON string, schemas *schema.Registry, logger *zap.Logger) (*FirestoreStore, error) {
	conf := &firebase.Config{
		ProjectID: projectID,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}

	logger.Info("Firestore document store initialized", zap.String("project_id", projectID))

	return &FirestoreStore{
		client:  client,
		schemas: schemas,
		logger:  logger,
	}, nil
}

func (s *FirestoreStore) Create(ctx context.Context, kind, id string, rec any) error {
	if err := s.schemas.Validate(kind, rec); err != nil {
		return err
	}

	if _, err := s.client.Collection(kind).Doc(id).Create(ctx, rec); err != nil {
		return fmt.Errorf("create %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, kind, id string, out any) error {
	doc, err := s.client.Collection(kind).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", kind, id, err)
	}

	if err := doc.DataTo(out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, kind, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}

	_, err := s.client.Collection(kind).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *FirestoreStore) Query(ctx context.Context, kind string, filter Filter, out any) error {
	q := s.client.Collection(kind).Query
	for field, value := range filter {
		q = q.Where(field, "==", value)
	}

	slice := reflect.ValueOf(out).Elem()
	elemType := slice.Type().Elem()

	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("query %s: %w", kind, err)
		}

		elem := reflect.New(elemType)
		if err := doc.DataTo(elem.Interface()); err != nil {
			s.logger.Warn("Skipping undecodable record",
				zap.String("kind", kind),
				zap.String("id", doc.Ref.ID),
				zap.Error(err))
			continue
		}
		slice.Set(reflect.Append(slice, elem.Elem()))
	}

	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, kind, id string) error {
	if _, err := s.client.Collection(kind).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
