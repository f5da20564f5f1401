package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/spf13/cobra"
)

var (
	sendMessage string
	sendFields  []string
	sendRaw     bool
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Publish a test push onto the push topic",
	Long: "Publishes a payload the way the push provider would. By default the payload is a\n" +
		"JSON object built from --message and --field key=value pairs; --raw sends the\n" +
		"message text unmodified.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig(logger)
		if err != nil {
			logger.Error("Config failed", "err", err)
			return err
		}
		if cfg.PushTopicID == "" {
			return fmt.Errorf("no push topic configured (set push_topic_id or the invoke_target_id preference)")
		}

		data, err := testPayload(sendMessage, sendFields, sendRaw)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		publisher := psClient.Publisher(cfg.PushTopicID)
		defer publisher.Stop()
		id, err := publisher.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
		if err != nil {
			logger.Error("Publish failed", "topic", cfg.PushTopicID, "err", err)
			return fmt.Errorf("failed to publish test push: %w", err)
		}
		logger.Info("Test push published", "topic", cfg.PushTopicID, "message_id", id, "bytes", len(data))
		return nil
	},
}

func init() {
	sendTestCmd.Flags().StringVarP(&sendMessage, "message", "m", "Test notification", "Display text")
	sendTestCmd.Flags().StringArrayVarP(&sendFields, "field", "f", nil, "Extra key=value field (repeatable)")
	sendTestCmd.Flags().BoolVar(&sendRaw, "raw", false, "Send the message as plain text rather than JSON")
	rootCmd.AddCommand(sendTestCmd)
}

func testPayload(message string, fields []string, raw bool) ([]byte, error) {
	if raw {
		return []byte(message), nil
	}
	obj := map[string]any{"message": message}
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("field %q is not key=value", f)
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}
