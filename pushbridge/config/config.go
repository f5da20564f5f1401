package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/internal/credentials"
)

// Storage backends for the channel token.
const (
	StorageFile      = "file"
	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// WebTarget is a browser subscription that mirrors displayed notifications.
// Keys are base64url as produced by PushSubscription.toJSON().
type WebTarget struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyFile    string
	DeviceTokens []string
}

// DisplayConfig lists the devices that receive a copy of every displayed notification.
type DisplayConfig struct {
	FCMTokens  []string
	APNS       APNSConfig
	WebTargets []WebTarget
}

type StorageConfig struct {
	Backend string
	Path    string
}

// Config defines the single, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	// AppName titles displayed notifications.
	AppName string
	// Foreground reports whether the host starts with a visible window.
	Foreground bool
	// InstallationID names this process's channel. Generated and persisted when empty.
	InstallationID string

	Preferences          map[string]string
	PreferencesFile      string
	PreferenceNamespace  string
	RegistrationEndpoint string

	Storage StorageConfig
	Redis   RedisConfig

	// PushTopicID is where send-test publishes. Defaults to the invoke_target_id preference.
	PushTopicID string
	// InvokeTopicID carries InvokeRequest JSON for the ingestion stream.
	InvokeTopicID string
	// InvokeSubscriptionID enables the invoke ingestion stream when set.
	InvokeSubscriptionID string
	InvokeDLQTopicID     string
	NumPipelineWorkers   int
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
	IdentityServiceURL   string
	CorsConfig           middleware.CorsConfig
	Vapid                VapidConfig
	Display              DisplayConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("STORAGE_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_PATH", "source", "env")
		cfg.Storage.Path = val
	}
	if val := os.Getenv("REGISTRATION_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "REGISTRATION_ENDPOINT", "source", "env")
		cfg.RegistrationEndpoint = val
	}
	if val := os.Getenv("PUSH_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_TOPIC_ID", "source", "env")
		cfg.PushTopicID = val
	}
	if val := os.Getenv("INVOKE_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INVOKE_TOPIC_ID", "source", "env")
		cfg.InvokeTopicID = val
	}
	if val := os.Getenv("INVOKE_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INVOKE_SUBSCRIPTION_ID", "source", "env")
		cfg.InvokeSubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = StorageFile
	case StorageFile, StorageSQLite, StorageFirestore:
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want file, sqlite or firestore)", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != StorageFirestore && cfg.Storage.Path == "" {
		return nil, fmt.Errorf("storage path is required for the %s backend (set via YAML or STORAGE_PATH env var)", cfg.Storage.Backend)
	}
	if cfg.InvokeSubscriptionID != "" && cfg.InvokeTopicID == "" {
		return nil, fmt.Errorf("invoke_topic_id is required when invoke_subscription_id is set")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.AppName == "" {
		cfg.AppName = "PushBridge"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Preferences == nil {
		cfg.Preferences = map[string]string{}
	}
	if cfg.PushTopicID == "" {
		cfg.PushTopicID = credentials.NewResolver(Preferences(cfg.Preferences), cfg.PreferenceNamespace).ResolvePushOptions().InvokeTargetID
	}

	if cfg.PubsubConsumerConfig == nil && cfg.InvokeSubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.InvokeSubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
