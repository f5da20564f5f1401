package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/internal/display"
	"github.com/tinywideclouds/go-push-bridge/internal/host"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/pubsubpush"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-push-bridge/internal/registration"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/file"
	fsStore "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

// installationKey persists a generated installation ID in local storage.
const installationKey = "pushbridge.installation_id"

// runtime owns every client the bridge needs for one process.
type runtime struct {
	cfg          *config.Config
	psClient     *pubsub.Client
	installation string
	host         *host.Local
	core         *pushbridge.Core
	closers      []func() error
	logger       *slog.Logger
}

// newRuntime connects the infrastructure clients and assembles the bridge.
// exit is what the host runs when a background launch times out.
func newRuntime(ctx context.Context, cfg *config.Config, exit func(), logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	// --- Infrastructure Clients ---
	rt.psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client failed: %w", err)
	}
	rt.closers = append(rt.closers, rt.psClient.Close)

	// --- Storage (optionally decorated) ---
	store, err := rt.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, redisClient.Close)
		store = cache.NewCachedStorage(store, redisClient, rt.installation, 24*time.Hour, logger)
		logger.Info("Storage upgraded", "type", "redis_cached_"+cfg.Storage.Backend)
	}

	// --- Display mirrors ---
	fanout, err := newDisplay(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// --- Bridge ---
	rt.host = host.New(cfg.AppName, cfg.Foreground, fanout, exit, logger)

	var regOpts []registration.Option
	if cfg.RegistrationEndpoint != "" {
		regOpts = append(regOpts, registration.WithEndpoint(cfg.RegistrationEndpoint))
	}

	rt.core = pushbridge.NewCore(ctx, pushbridge.Dependencies{
		PushService:         pubsubpush.NewService(rt.psClient, cfg.ProjectID, rt.installation, rt.host.Invoke, logger),
		Host:                rt.host,
		Storage:             store,
		Registrar:           registration.NewClient(logger, regOpts...),
		Preferences:         config.Preferences(cfg.Preferences),
		PreferenceNamespace: cfg.PreferenceNamespace,
	}, logger)
	rt.closers = append(rt.closers, rt.core.Close)

	logger.Info("Bridge assembled",
		"installation", rt.installation,
		"storage", cfg.Storage.Backend,
		"display_targets", fanout.Len(),
	)
	return rt, nil
}

// openStorage opens the configured backend and settles the installation ID.
func (rt *runtime) openStorage(ctx context.Context) (bridge.Storage, error) {
	cfg := rt.cfg
	switch cfg.Storage.Backend {
	case config.StorageFirestore:
		// the installation keys the firestore document path, so it cannot live inside it
		if cfg.InstallationID == "" {
			return nil, errors.New("installation_id is required with the firestore backend")
		}
		installURN, err := installationURN(cfg.InstallationID)
		if err != nil {
			return nil, err
		}
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client failed: %w", err)
		}
		rt.closers = append(rt.closers, fsClient.Close)
		rt.installation = cfg.InstallationID
		return fsStore.NewFirestoreStore(fsClient, installURN), nil

	case config.StorageSQLite:
		s, err := sqlite.NewStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		return s, rt.settleInstallation(ctx, s)

	default:
		s, err := file.NewStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return s, rt.settleInstallation(ctx, s)
	}
}

// settleInstallation uses the configured ID, else the persisted one, else a new one.
func (rt *runtime) settleInstallation(ctx context.Context, store bridge.Storage) error {
	if rt.cfg.InstallationID != "" {
		rt.installation = rt.cfg.InstallationID
		return nil
	}
	id, ok, err := store.Get(ctx, installationKey)
	if err != nil {
		return fmt.Errorf("failed to read installation id: %w", err)
	}
	if ok && id != "" {
		rt.installation = id
		return nil
	}
	id = uuid.NewString()
	if err := store.Set(ctx, installationKey, id); err != nil {
		return fmt.Errorf("failed to persist installation id: %w", err)
	}
	rt.logger.Info("Generated installation id", "installation", id)
	rt.installation = id
	return nil
}

func installationURN(id string) (urn.URN, error) {
	u, err := urn.Parse("urn:pushbridge:installation:" + id)
	if err != nil {
		return u, fmt.Errorf("invalid installation id %q: %w", id, err)
	}
	return u, nil
}

// newDisplay builds a forwarder for every configured mirror platform.
func newDisplay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*display.Fanout, error) {
	var forwarders []display.Forwarder

	// A. Mobile (FCM)
	if len(cfg.Display.FCMTokens) > 0 {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
		}
		forwarders = append(forwarders, fcm.NewForwarder(fcmMessaging, cfg.Display.FCMTokens, logger))
	}

	// B. Apple (APNs)
	if a := cfg.Display.APNS; a.KeyID != "" && len(a.DeviceTokens) > 0 {
		key, err := os.ReadFile(a.P8KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read apns key file: %w", err)
		}
		fw, err := apns.NewForwarder(apns.Config{
			KeyID:        a.KeyID,
			TeamID:       a.TeamID,
			BundleID:     a.BundleID,
			P8KeyContent: string(key),
		}, a.DeviceTokens, logger)
		if err != nil {
			return nil, err
		}
		forwarders = append(forwarders, fw)
	}

	// C. Web (VAPID)
	if len(cfg.Display.WebTargets) > 0 {
		if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
			logger.Warn("VAPID keys missing in configuration. Web mirrors are disabled.")
		} else {
			forwarders = append(forwarders, web.NewForwarder(cfg.Vapid, cfg.Display.WebTargets, logger))
		}
	}

	return display.NewFanout(logger, forwarders...), nil
}

// Close releases clients in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("Close failed", "err", err)
		}
	}
	rt.closers = nil
}
