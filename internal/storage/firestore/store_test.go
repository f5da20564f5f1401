//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func setupSuite(t *testing.T) (context.Context, *firestore.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-bridge-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ctx, client
}

func TestFirestoreStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t)
	installA, err := urn.Parse("urn:pushbridge:installation:aaaa")
	require.NoError(t, err)
	installB, err := urn.Parse("urn:pushbridge:installation:bbbb")
	require.NoError(t, err)

	storeA := fs.NewFirestoreStore(client, installA)
	storeB := fs.NewFirestoreStore(client, installB)
	key := "cordova.ua.bb10.token"

	t.Run("Token lifecycle", func(t *testing.T) {
		_, ok, err := storeA.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, storeA.Set(ctx, key, "tok-a"))
		v, ok, err := storeA.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "tok-a", v)

		require.NoError(t, storeA.Remove(ctx, key))
		_, ok, err = storeA.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Installations are isolated", func(t *testing.T) {
		require.NoError(t, storeA.Set(ctx, key, "tok-a"))
		_, ok, err := storeB.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Removing an absent key succeeds", func(t *testing.T) {
		assert.NoError(t, storeB.Remove(ctx, "never/written"))
	})
}
