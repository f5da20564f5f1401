package pushbridge

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-bridge/internal/credentials"
	"github.com/tinywideclouds/go-push-bridge/internal/foreground"
	"github.com/tinywideclouds/go-push-bridge/internal/host"
	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/internal/session"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// Dependencies are the collaborators the core is assembled from.
type Dependencies struct {
	PushService         bridge.PushService
	Host                *host.Local
	Storage             bridge.Storage
	Registrar           session.Registrar
	Preferences         bridge.Preferences
	PreferenceNamespace string
	// Guard is created when nil.
	Guard *foreground.Guard
}

// Core wires the session, the payload pipeline and the facade together.
type Core struct {
	Bridge   *Bridge
	Session  *session.Session
	Pipeline *pipeline.Pipeline
	Guard    *foreground.Guard
	Host     *host.Local
}

// NewCore assembles the bridge. Invoke requests reach the pipeline once the
// first Subscribe attaches it to the host.
func NewCore(ctx context.Context, deps Dependencies, logger *slog.Logger, opts ...session.Option) *Core {
	guard := deps.Guard
	if guard == nil {
		guard = foreground.NewGuard(logger)
	}
	resolver := credentials.NewResolver(deps.Preferences, deps.PreferenceNamespace)

	sess := session.New(deps.PushService, deps.Host, deps.Storage, deps.Registrar, resolver, guard, logger, opts...)
	b := NewBridge(ctx, sess, logger)
	p := pipeline.New(sess, deps.Host, guard, b.HandleEvent, logger)
	sess.SetInvokeHandler(p.OnInvoke)

	return &Core{
		Bridge:   b,
		Session:  sess,
		Pipeline: p,
		Guard:    guard,
		Host:     deps.Host,
	}
}

// Close waits for in-flight operations and releases the push handle.
func (c *Core) Close() error {
	c.Bridge.Wait()
	return c.Session.Teardown()
}
