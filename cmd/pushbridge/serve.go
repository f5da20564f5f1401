package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

// localOperator is the caller identity used when no identity service is configured.
const localOperator = "urn:pushbridge:operator:local"

var subscribeOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge with its HTTP control API and invoke ingestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig(logger)
		if err != nil {
			logger.Error("Config failed", "err", err)
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// a cold push launch that is never foregrounded exits the whole process
		rt, err := newRuntime(ctx, cfg, stop, logger)
		if err != nil {
			logger.Error("Runtime creation failed", "err", err)
			return err
		}
		defer rt.Close()

		authMiddleware, err := newAuthMiddleware(cfg, logger)
		if err != nil {
			logger.Error("Auth middleware failed", "err", err)
			return err
		}

		var consumer messagepipeline.MessageConsumer
		if cfg.PubsubConsumerConfig != nil {
			consumer, err = newIngestionConsumer(ctx, cfg, rt.psClient, logger)
			if err != nil {
				logger.Error("Invoke ingestion failed", "err", err)
				return err
			}
		}

		service, err := pushbridge.New(cfg, rt.core, consumer, authMiddleware, logger)
		if err != nil {
			logger.Error("Service creation failed", "err", err)
			return err
		}

		resumeSubscription(ctx, rt, subscribeOnStart, logger)

		go func() {
			logger.Info("Starting service...", "addr", cfg.ListenAddr)
			if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Service shutdown with error", "err", err)
				stop()
			}
		}()

		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return service.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&subscribeOnStart, "subscribe", false, "Subscribe at startup even when no channel token is persisted")
	rootCmd.AddCommand(serveCmd)
}

// resumeSubscription re-subscribes a previously subscribed installation so that
// pushes are received again after a restart.
func resumeSubscription(ctx context.Context, rt *runtime, force bool, logger *slog.Logger) {
	_, ok, err := rt.core.Session.Token(ctx)
	if err != nil {
		logger.Warn("Could not read channel token at startup", "err", err)
		return
	}
	if !ok && !force {
		logger.Info("Not subscribed; waiting for a subscribe request")
		return
	}
	rt.core.Bridge.Subscribe(func(err error, st bridge.Status) {
		if err != nil {
			logger.Error("Startup subscribe failed", "err", err)
			return
		}
		logger.Info("Subscribed at startup", "token", st.Token)
	})
}

func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.IdentityServiceURL == "" {
		logger.Warn("No identity service configured; API calls run as the local operator")
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), localOperator)))
			})
		}, nil
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("jwt discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return nil, fmt.Errorf("jwks middleware failed: %w", err)
	}
	return authMiddleware, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.InvokeSubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.InvokeTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.InvokeDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.InvokeDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		cfg.PubsubConsumerConfig, psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
