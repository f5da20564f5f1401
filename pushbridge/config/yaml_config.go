package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlStorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type YamlWebTarget struct {
	Endpoint string `yaml:"endpoint"`
	P256dh   string `yaml:"p256dh"`
	Auth     string `yaml:"auth"`
}

type YamlAPNSConfig struct {
	KeyID        string   `yaml:"key_id"`
	TeamID       string   `yaml:"team_id"`
	BundleID     string   `yaml:"bundle_id"`
	P8KeyFile    string   `yaml:"p8_key_file"`
	DeviceTokens []string `yaml:"device_tokens"`
}

type YamlDisplayConfig struct {
	FCMTokens        []string        `yaml:"fcm_tokens"`
	APNS             YamlAPNSConfig  `yaml:"apns"`
	WebSubscriptions []YamlWebTarget `yaml:"web_subscriptions"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID            string            `yaml:"project_id"`
	ListenAddr           string            `yaml:"listen_addr"`
	AppName              string            `yaml:"app_name"`
	Foreground           bool              `yaml:"foreground"`
	InstallationID       string            `yaml:"installation_id"`
	Preferences          map[string]string `yaml:"preferences"`
	PreferencesFile      string            `yaml:"preferences_file"`
	PreferenceNamespace  string            `yaml:"preference_namespace"`
	RegistrationEndpoint string            `yaml:"registration_endpoint"`
	StorageConfig        YamlStorageConfig `yaml:"storage"`
	RedisConfig          YamlRedisConfig   `yaml:"redis"`
	PushTopicID          string            `yaml:"push_topic_id"`
	InvokeTopicID        string            `yaml:"invoke_topic_id"`
	InvokeSubscriptionID string            `yaml:"invoke_subscription_id"`
	InvokeDLQTopicID     string            `yaml:"invoke_dlq_topic_id"`
	NumPipelineWorkers   int               `yaml:"num_pipeline_workers"`
	IdentityServiceURL   string            `yaml:"identity_service_url"`
	CorsConfig           YamlCorsConfig    `yaml:"cors"`
	VapidConfig          YamlVapidConfig   `yaml:"vapid"`
	DisplayConfig        YamlDisplayConfig `yaml:"display"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	webTargets := make([]WebTarget, 0, len(baseCfg.DisplayConfig.WebSubscriptions))
	for _, t := range baseCfg.DisplayConfig.WebSubscriptions {
		webTargets = append(webTargets, WebTarget{Endpoint: t.Endpoint, P256dh: t.P256dh, Auth: t.Auth})
	}

	cfg := &Config{
		ProjectID:            baseCfg.ProjectID,
		ListenAddr:           baseCfg.ListenAddr,
		AppName:              baseCfg.AppName,
		Foreground:           baseCfg.Foreground,
		InstallationID:       baseCfg.InstallationID,
		Preferences:          baseCfg.Preferences,
		PreferencesFile:      baseCfg.PreferencesFile,
		PreferenceNamespace:  baseCfg.PreferenceNamespace,
		RegistrationEndpoint: baseCfg.RegistrationEndpoint,
		Storage: StorageConfig{
			Backend: baseCfg.StorageConfig.Backend,
			Path:    baseCfg.StorageConfig.Path,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		PushTopicID:          baseCfg.PushTopicID,
		InvokeTopicID:        baseCfg.InvokeTopicID,
		InvokeSubscriptionID: baseCfg.InvokeSubscriptionID,
		InvokeDLQTopicID:     baseCfg.InvokeDLQTopicID,
		NumPipelineWorkers:   baseCfg.NumPipelineWorkers,
		IdentityServiceURL:   baseCfg.IdentityServiceURL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Display: DisplayConfig{
			FCMTokens: baseCfg.DisplayConfig.FCMTokens,
			APNS: APNSConfig{
				KeyID:        baseCfg.DisplayConfig.APNS.KeyID,
				TeamID:       baseCfg.DisplayConfig.APNS.TeamID,
				BundleID:     baseCfg.DisplayConfig.APNS.BundleID,
				P8KeyFile:    baseCfg.DisplayConfig.APNS.P8KeyFile,
				DeviceTokens: baseCfg.DisplayConfig.APNS.DeviceTokens,
			},
			WebTargets: webTargets,
		},
	}

	if cfg.InvokeSubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.InvokeSubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.Storage.Backend,
		"invoke_subscription_id", cfg.InvokeSubscriptionID,
	)

	return cfg, nil
}
