package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// FirestoreStore implements bridge.Storage using Google Cloud Firestore.
// Each installation owns its own kv sub-collection.
type FirestoreStore struct {
	client       *firestore.Client
	installation urn.URN
}

func NewFirestoreStore(client *firestore.Client, installation urn.URN) *FirestoreStore {
	return &FirestoreStore{client: client, installation: installation}
}

// kvRecord is the internal DB representation.
type kvRecord struct {
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := s.entryRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("firestore read failed: %w", err)
	}

	var record kvRecord
	if err := snap.DataTo(&record); err != nil {
		return "", false, fmt.Errorf("firestore record %s is malformed: %w", snap.Ref.ID, err)
	}
	return record.Value, true, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	record := kvRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if _, err := s.entryRef(key).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore write failed: %w", err)
	}
	return nil
}

// Remove deletes the entry. Firestore deletes of missing documents succeed.
func (s *FirestoreStore) Remove(ctx context.Context, key string) error {
	if _, err := s.entryRef(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

// entryRef: installations/{urn}/kv/{keyHash}
func (s *FirestoreStore) entryRef(key string) *firestore.DocumentRef {
	return s.client.Collection("installations").Doc(s.installation.String()).Collection("kv").Doc(hashKey(key))
}

// keys may contain '/', which Firestore reserves in document IDs
func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
