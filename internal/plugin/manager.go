// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/quillbooks/pluginhost/internal/capability"
	"github.com/quillbooks/pluginhost/internal/event"
	"github.com/quillbooks/pluginhost/internal/extension"
	"github.com/quillbooks/pluginhost/internal/isolation"
	"github.com/quillbooks/pluginhost/internal/observability"
	"github.com/quillbooks/pluginhost/internal/plugin/resolver"
	"github.com/quillbooks/pluginhost/internal/security"
	"github.com/quillbooks/pluginhost/internal/service"
	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Manager orchestrates the plugin runtime: it discovers bundles, gates
// them through signature verification, orders them through the
// dependency resolver, instantiates them through the isolation loader,
// and walks each container through its lifecycle. Extension, service,
// and event registrations owned by a plugin are torn down when the
// plugin is disabled.
type Manager struct {
	hostVersion string
	pluginsDir  string
	dataDir     string

	requireSignature bool

	registry   *Registry
	loader     *isolation.Loader
	verifier   *security.Verifier
	grants     *capability.Grants
	extensions *extension.Registry
	services   *service.Registry
	bus        *event.Bus

	mu          sync.Mutex
	bundles     map[string]*DiscoveredBundle
	blocked     map[string]string
	warnings    []string
	initialized bool
	closed      bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithVerifier sets the signature verifier. Without one, bundles load
// unverified and requireSignature cannot be satisfied.
func WithVerifier(v *security.Verifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

// WithRequireSignature makes unsigned bundles a load error.
func WithRequireSignature(require bool) ManagerOption {
	return func(m *Manager) { m.requireSignature = require }
}

// WithLoader sets the isolation loader plugins are instantiated through.
func WithLoader(l *isolation.Loader) ManagerOption {
	return func(m *Manager) { m.loader = l }
}

// WithBus sets the event bus torn down with the manager.
func WithBus(b *event.Bus) ManagerOption {
	return func(m *Manager) { m.bus = b }
}

// WithExtensionRegistry sets the extension registry.
func WithExtensionRegistry(r *extension.Registry) ManagerOption {
	return func(m *Manager) { m.extensions = r }
}

// WithDataDir sets the base directory under which per-plugin data
// directories are created.
func WithDataDir(dir string) ManagerOption {
	return func(m *Manager) { m.dataDir = dir }
}

// NewManager creates a plugin manager. hostVersion must be a valid
// semantic version; it gates plugin min-host-version declarations.
func NewManager(hostVersion, pluginsDir string, opts ...ManagerOption) (*Manager, error) {
	// Fail fast on an unparseable host version instead of at the first
	// Initialize.
	if _, err := resolver.New(hostVersion); err != nil {
		return nil, err
	}

	m := &Manager{
		hostVersion: hostVersion,
		pluginsDir:  pluginsDir,
		dataDir:     filepath.Join(pluginsDir, "data"),
		registry:    NewRegistry(),
		grants:      capability.NewGrants(),
		extensions:  extension.NewRegistry(extension.NewPriorityOrder()),
		bus:         event.NewBus(),
		bundles:     make(map[string]*DiscoveredBundle),
		blocked:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.loader == nil {
		m.loader = isolation.NewLoader(isolation.NewPolicy(), isolation.NewSymbolTable())
	}
	if m.verifier == nil {
		m.verifier = security.NewVerifier(nil, nil)
	}
	// Providing services requires the matching capability grant.
	m.services = service.NewRegistry(func(providerID string) bool {
		return m.grants.Check(providerID, capability.ProvideServices)
	})

	return m, nil
}

// Registry returns the plugin container registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Extensions returns the extension registry.
func (m *Manager) Extensions() *extension.Registry { return m.extensions }

// Services returns the service registry.
func (m *Manager) Services() *service.Registry { return m.services }

// Bus returns the event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Grants returns the capability grant table.
func (m *Manager) Grants() *capability.Grants { return m.grants }

// Loader returns the isolation loader, for bundle symbol registration.
func (m *Manager) Loader() *isolation.Loader { return m.loader }

// BlockedReason returns why a plugin was blocked during the last
// Initialize, if it was.
func (m *Manager) BlockedReason(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.blocked[id]
	return reason, ok
}

// Warnings returns dependency warnings from the last Initialize.
func (m *Manager) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.warnings))
	copy(out, m.warnings)
	return out
}

// Initialize discovers bundles, verifies their signatures, resolves
// dependencies, and loads each resolved plugin in dependency order.
// Per-plugin load failures are isolated into the Failed state without
// aborting the batch; a dependency cycle fails the whole batch.
// Initialize is idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return oops.Code("MANAGER_CLOSED").Errorf("manager is shut down")
	}
	if m.initialized {
		return nil
	}

	discovered, err := DiscoverBundles(m.pluginsDir)
	if err != nil {
		return err
	}

	// Signature gate. Rejected bundles get a Failed container so they
	// stay visible, but no plugin code ever runs for them.
	var candidates []pkgplugin.Descriptor
	for _, db := range discovered {
		id := db.Manifest.ID
		c := NewDiscoveredContainer(db.Manifest.Descriptor(), db.Path)
		if err := m.registry.Put(c); err != nil {
			slog.Warn("skipping duplicate plugin id",
				"plugin", id,
				"bundle", db.Path)
			continue
		}
		m.bundles[id] = db

		if err := m.verifier.Check(db.Path, m.requireSignature); err != nil {
			c.Fail(err)
			observability.RecordSignatureRejection(rejectionVerdict(err))
			slog.Error("bundle rejected by signature policy",
				"plugin", id,
				"error", err)
			continue
		}
		candidates = append(candidates, db.Manifest.Descriptor())
	}

	res, err := resolver.New(m.hostVersion)
	if err != nil {
		return err
	}
	result, err := res.Resolve(candidates)
	if err != nil {
		return err
	}

	m.blocked = result.Blocked
	m.warnings = result.Warnings
	for _, w := range result.Warnings {
		slog.Warn("dependency warning", "warning", w)
	}
	for id, reason := range result.Blocked {
		if c, err := m.registry.Get(id); err == nil {
			if terr := c.TransitionTo(StateBlocked); terr != nil {
				slog.Error("cannot block plugin", "plugin", id, "error", terr)
				continue
			}
			slog.Warn("plugin blocked", "plugin", id, "reason", reason)
		}
	}

	for _, id := range result.LoadOrder {
		if err := m.loadLocked(ctx, id); err != nil {
			slog.Error("failed to load plugin",
				"plugin", id,
				"error", err)
		}
	}

	m.initialized = true
	return nil
}

// LoadPlugin instantiates a discovered plugin and runs its load
// callback. The plugin must currently be Discovered or Blocked.
func (m *Manager) LoadPlugin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, id)
}

func (m *Manager) loadLocked(ctx context.Context, id string) error {
	c, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := c.CheckTransition(StateLoaded); err != nil {
		return err
	}

	db, ok := m.bundles[id]
	if !ok {
		return oops.Code("PLUGIN_NOT_FOUND").
			With("plugin", id).
			Errorf("no bundle recorded for plugin %s", id)
	}

	instance, err := m.loader.Instantiate(id, db.Manifest.Entry)
	if err != nil {
		c.Fail(err)
		return err
	}
	if got := instance.Descriptor().ID; got != id {
		err := oops.Code("PLUGIN_ID_MISMATCH").
			With("plugin", id).
			With("descriptor", got).
			Errorf("bundle manifest declares %s but plugin reports %s", id, got)
		c.Fail(err)
		return err
	}

	if err := m.grants.Set(id, db.Manifest.Capabilities); err != nil {
		c.Fail(err)
		return err
	}

	dataDir := filepath.Join(m.dataDir, sanitizeID(id))
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		c.Fail(err)
		return oops.Code("PLUGIN_DATA_DIR").
			With("plugin", id).
			Wrapf(err, "create plugin data directory")
	}

	pctx := pkgplugin.NewContext(m.hostVersion, dataDir, func(name string) bool {
		return m.grants.Check(id, name)
	})

	if err := instance.OnLoad(ctx, pctx); err != nil {
		lerr := oops.Code("PLUGIN_LIFECYCLE").
			With("plugin", id).
			Wrapf(err, "plugin %s load callback failed", id)
		c.Fail(lerr)
		return lerr
	}

	c.SetInstance(instance)
	c.SetContext(pctx)
	if err := c.TransitionTo(StateLoaded); err != nil {
		return err
	}

	slog.Info("loaded plugin",
		"plugin", id,
		"version", db.Manifest.Version)
	return nil
}

// EnablePlugin transitions a plugin to Enabled. Extension and service
// registration is the plugin's own business once enabled; the state
// change itself has no side effects.
func (m *Manager) EnablePlugin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableLocked(id)
}

func (m *Manager) enableLocked(id string) error {
	c, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := c.TransitionTo(StateEnabled); err != nil {
		return err
	}
	slog.Info("enabled plugin", "plugin", id)
	return nil
}

// DisablePlugin unregisters every extension, service, and event
// subscription owned by the plugin, then transitions it to Disabled.
func (m *Manager) DisablePlugin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableLocked(id)
}

func (m *Manager) disableLocked(id string) error {
	c, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := c.CheckTransition(StateDisabled); err != nil {
		return err
	}

	exts := m.extensions.UnregisterAll(id)
	svcs := m.services.UnregisterAll(id)
	subs := m.bus.UnsubscribeAll(id)

	if err := c.TransitionTo(StateDisabled); err != nil {
		return err
	}

	slog.Info("disabled plugin",
		"plugin", id,
		"extensions", exts,
		"services", svcs,
		"subscriptions", subs)
	return nil
}

// UnloadPlugin runs the plugin's unload callback and transitions it to
// Unloaded, the terminal state. An unload callback failure leaves the
// plugin Failed, with the cause recorded.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, id)
}

func (m *Manager) unloadLocked(ctx context.Context, id string) error {
	c, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := c.CheckTransition(StateUnloaded); err != nil {
		return err
	}

	// The unload callback only runs for plugins whose load callback
	// completed.
	state := c.State()
	if instance := c.Instance(); instance != nil && (state == StateLoaded || state == StateDisabled) {
		if err := instance.OnUnload(ctx); err != nil {
			lerr := oops.Code("PLUGIN_LIFECYCLE").
				With("plugin", id).
				Wrapf(err, "plugin %s unload callback failed", id)
			c.Fail(lerr)
			return lerr
		}
	}

	m.grants.Remove(id)
	if err := c.TransitionTo(StateUnloaded); err != nil {
		return err
	}

	slog.Info("unloaded plugin", "plugin", id)
	return nil
}

// Reload tears a plugin down, re-reads its bundle, and brings it back
// up: disable, unload, load, enable. Plugin-preserved state is carried
// across the cycle on a best-effort basis. The old container is
// replaced; a failure partway leaves the plugin in whatever state the
// last completed step produced.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return oops.Code("MANAGER_CLOSED").Errorf("manager is shut down")
	}

	c, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	bundlePath := c.BundlePath()

	// Best effort: a failure to save is logged and treated as no state.
	var saved []byte
	if s, ok := c.Instance().(pkgplugin.Stateful); ok {
		if saved, err = s.SaveState(); err != nil {
			slog.Warn("cannot preserve plugin state across reload",
				"plugin", id,
				"error", err)
			saved = nil
		}
	}

	if c.State() == StateEnabled {
		if err := m.disableLocked(id); err != nil {
			return err
		}
	}
	if c.State() != StateUnloaded {
		if err := m.unloadLocked(ctx, id); err != nil {
			return err
		}
	}
	m.registry.Remove(id)

	// Re-read the manifest: the bundle on disk may have changed.
	manifest, err := ReadBundleManifest(bundlePath)
	if err != nil {
		return err
	}
	if manifest.ID != id {
		return oops.Code("PLUGIN_ID_MISMATCH").
			With("plugin", id).
			With("manifest", manifest.ID).
			Errorf("bundle %s now declares plugin %s", bundlePath, manifest.ID)
	}
	if err := m.verifier.Check(bundlePath, m.requireSignature); err != nil {
		observability.RecordSignatureRejection(rejectionVerdict(err))
		return err
	}

	next := NewDiscoveredContainer(manifest.Descriptor(), bundlePath)
	if err := m.registry.Put(next); err != nil {
		return err
	}
	m.bundles[id] = &DiscoveredBundle{Manifest: manifest, Path: bundlePath}

	if err := m.loadLocked(ctx, id); err != nil {
		return err
	}
	if err := m.enableLocked(id); err != nil {
		return err
	}

	if saved != nil {
		if s, ok := next.Instance().(pkgplugin.Stateful); ok {
			if err := s.RestoreState(saved); err != nil {
				slog.Warn("cannot restore plugin state after reload",
					"plugin", id,
					"error", err)
			}
		}
	}

	slog.Info("reloaded plugin", "plugin", id, "version", manifest.Version)
	return nil
}

// Shutdown disables all enabled plugins, unloads everything loadable,
// clears the registries, and closes the event bus. Per-plugin teardown
// errors are logged, not propagated. Shutdown is idempotent; the
// manager cannot be reinitialized afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, c := range m.registry.ByState(StateEnabled) {
		if err := m.disableLocked(c.ID()); err != nil {
			slog.Error("shutdown: cannot disable plugin",
				"plugin", c.ID(),
				"error", err)
		}
	}
	for _, c := range m.registry.All() {
		if !CanTransition(c.State(), StateUnloaded) {
			continue
		}
		if err := m.unloadLocked(ctx, c.ID()); err != nil {
			slog.Error("shutdown: cannot unload plugin",
				"plugin", c.ID(),
				"error", err)
		}
	}

	m.registry.Clear()
	m.bundles = make(map[string]*DiscoveredBundle)
	m.blocked = make(map[string]string)
	m.warnings = nil
	m.bus.Close()

	slog.Info("plugin manager shut down")
	return nil
}

// rejectionVerdict maps a verifier policy error to a metric label.
func rejectionVerdict(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "SECURITY_UNSIGNED":
			return "unsigned"
		case "SECURITY_REVOKED":
			return "revoked"
		case "SECURITY_UNTRUSTED":
			return "untrusted"
		}
	}
	return "invalid"
}

// sanitizeID maps a plugin id to a filesystem-safe directory name.
// Validated ids are already safe; this is a backstop for anything else.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
