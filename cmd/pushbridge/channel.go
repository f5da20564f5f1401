package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge"
)

var callTimeout time.Duration

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Create or reuse the push channel and register it with the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd.Context(), func(b *pushbridge.Bridge) (any, error) {
			return await(func(cb bridge.Callback[bridge.Status]) { b.Subscribe(cb) })
		})
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Unregister from the provider and destroy the push channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd.Context(), func(b *pushbridge.Bridge) (any, error) {
			return await(func(cb bridge.Callback[bridge.Status]) { b.Unsubscribe(cb) })
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether user notifications are enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd.Context(), func(b *pushbridge.Bridge) (any, error) {
			enabled, err := await(func(cb bridge.Callback[bool]) { b.IsUserNotificationsEnabled(cb) })
			if err != nil {
				return nil, err
			}
			return map[string]any{"enabled": enabled, "state": b.State()}, nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{subscribeCmd, unsubscribeCmd, statusCmd} {
		c.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "How long to wait for the bridge to answer")
		rootCmd.AddCommand(c)
	}
}

// withBridge runs one bridge call against a short-lived runtime and prints its result as JSON.
func withBridge(parent context.Context, call func(b *pushbridge.Bridge) (any, error)) error {
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, callTimeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, cancel, logger)
	if err != nil {
		logger.Error("Runtime creation failed", "err", err)
		return err
	}
	defer rt.Close()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := call(rt.core.Bridge)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			logger.Error("Bridge call failed", "err", o.err)
			return o.err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o.v)
	case <-ctx.Done():
		return fmt.Errorf("bridge did not answer: %w", ctx.Err())
	}
}

// await turns a callback style call into a blocking one.
func await[T any](start func(cb bridge.Callback[T])) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(err error, v T) {
		ch <- result{v, err}
	})
	r := <-ch
	return r.v, r.err
}
