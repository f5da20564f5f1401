// Package credentials resolves provider credentials and push options from the
// preference store.
package credentials

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-push-bridge/internal/codec"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// DefaultNamespace prefixes every preference name in the manifest.
const DefaultNamespace = "com.urbanairship."

// Credentials is the API key/secret pair of the push provider.
type Credentials struct {
	Key    string
	Secret string
}

// Complete reports whether both halves of the pair are present.
func (c Credentials) Complete() bool {
	return c.Key != "" && c.Secret != ""
}

// BasicAuth returns the value of a Basic Authorization header.
func (c Credentials) BasicAuth() string {
	return "Basic " + codec.Encode(c.Key+":"+c.Secret)
}

// Resolver reads namespaced preferences.
type Resolver struct {
	prefs     bridge.Preferences
	namespace string
}

// NewResolver creates a resolver. An empty namespace selects DefaultNamespace.
func NewResolver(prefs bridge.Preferences, namespace string) *Resolver {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Resolver{prefs: prefs, namespace: namespace}
}

// InProduction reports the in_production flag. Absent or unparsable values are false.
func (r *Resolver) InProduction() bool {
	v, ok := r.pref("in_production")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Resolve returns the credential pair for the configured environment.
// Absent preferences yield an incomplete pair; there is no error path.
func (r *Resolver) Resolve() Credentials {
	env := "development"
	if r.InProduction() {
		env = "production"
	}
	key, _ := r.pref(env + "_app_key")
	secret, _ := r.pref(env + "_app_secret")
	return Credentials{Key: key, Secret: secret}
}

// ResolvePushOptions returns the options used to create the platform push service.
func (r *Resolver) ResolvePushOptions() bridge.PushOptions {
	cpid, _ := r.pref("bb_cpid")
	invokeTarget, _ := r.pref("invoke_target_id")

	opts := bridge.PushOptions{InvokeTargetID: invokeTarget}
	if r.InProduction() {
		opts.AppID, _ = r.pref("production_bbapp_id")
		opts.PPGURL = fmt.Sprintf("http://cp%s.pushapi.na.blackberry.com", cpid)
	} else {
		opts.AppID, _ = r.pref("development_bbapp_id")
		opts.PPGURL = "http://pushapi.eval.blackberry.com"
	}
	return opts
}

// pref looks up the namespaced name first and then the bare name.
func (r *Resolver) pref(name string) (string, bool) {
	if r.prefs == nil {
		return "", false
	}
	if v, ok := r.prefs.Get(r.namespace + name); ok {
		return v, true
	}
	return r.prefs.Get(name)
}
