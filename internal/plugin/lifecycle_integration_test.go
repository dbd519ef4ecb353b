// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

//go:build integration

package plugin_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/quillbooks/pluginhost/internal/event"
	"github.com/quillbooks/pluginhost/internal/isolation"
	plugins "github.com/quillbooks/pluginhost/internal/plugin"
	"github.com/quillbooks/pluginhost/internal/security"
	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// lifecycleFixture wires a manager over a directory of signed bundles.
type lifecycleFixture struct {
	Manager   *plugins.Manager
	Dir       string
	Identity  *security.Identity
	LoadOrder *[]string
	Cleanup   func()
}

const ledgerBundleYAML = `id: acme.ledger
name: Acme Ledger
version: 1.0.0
entry: acme.ledger.New
capabilities:
  - services.provide
`

const vatBundleYAML = `id: acme.vat
name: Acme VAT
version: 0.3.0
entry: acme.vat.New
dependencies:
  - plugin-id: acme.ledger
    version-range: ^1.0.0
    required: true
`

// createBundle writes a .qbx with the manifest and signs it in place.
func createBundle(dir, filename, manifest string, id *security.Identity) error {
	unsigned := filepath.Join(dir, "unsigned-"+filename)
	f, err := os.Create(unsigned) //nolint:gosec // test fixture path
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("plugin.yaml")
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(manifest)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if id == nil {
		return os.Rename(unsigned, filepath.Join(dir, filename))
	}
	if err := security.SignBundle(unsigned, filepath.Join(dir, filename), id); err != nil {
		return err
	}
	return os.Remove(unsigned)
}

// setupLifecycle builds a signature-mandating manager over ledger and
// vat bundles signed by a trusted identity.
func setupLifecycle() (*lifecycleFixture, error) {
	dir, err := os.MkdirTemp("", "pluginhost-lifecycle-*")
	if err != nil {
		return nil, err
	}

	identity, err := security.NewIdentity("Acme Plugins", "Acme Ltd")
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if err := createBundle(dir, "ledger.qbx", ledgerBundleYAML, identity); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if err := createBundle(dir, "vat.qbx", vatBundleYAML, identity); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	verifier := security.NewVerifier([]string{identity.Subject()}, security.NewRevocationList())
	manager, err := plugins.NewManager("2.0.0", dir,
		plugins.WithVerifier(verifier),
		plugins.WithRequireSignature(true),
	)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	var mu sync.Mutex
	loadOrder := &[]string{}
	register := func(pluginID, entry string) {
		table := isolation.NewSymbolTable()
		_ = table.Register(entry, isolation.Factory(func() pkgplugin.Plugin {
			mu.Lock()
			*loadOrder = append(*loadOrder, pluginID)
			mu.Unlock()
			return &fakePlugin{descriptor: pkgplugin.Descriptor{
				ID:      pluginID,
				Name:    pluginID,
				Version: "1.0.0",
			}}
		}))
		manager.Loader().RegisterBundle(pluginID, table)
	}
	register("acme.ledger", "acme.ledger.New")
	register("acme.vat", "acme.vat.New")

	return &lifecycleFixture{
		Manager:   manager,
		Dir:       dir,
		Identity:  identity,
		LoadOrder: loadOrder,
		Cleanup: func() {
			_ = manager.Shutdown(context.Background())
			_ = os.RemoveAll(dir)
		},
	}, nil
}

var _ = Describe("Plugin Lifecycle Integration", func() {
	var fixture *lifecycleFixture

	BeforeEach(func() {
		var err error
		fixture, err = setupLifecycle()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		fixture.Cleanup()
	})

	Describe("Discovery and Loading", func() {
		It("loads signed bundles in dependency order", func() {
			Expect(fixture.Manager.Initialize(context.Background())).To(Succeed())
			Expect(*fixture.LoadOrder).To(Equal([]string{"acme.ledger", "acme.vat"}))

			for _, id := range []string{"acme.ledger", "acme.vat"} {
				c, err := fixture.Manager.Registry().Get(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(c.State()).To(Equal(plugins.StateLoaded))
			}
		})

		It("fails bundles signed by nobody", func() {
			Expect(createBundle(fixture.Dir, "rogue.qbx", `id: acme.rogue
name: Rogue
version: 1.0.0
entry: acme.rogue.New
`, nil)).To(Succeed())

			Expect(fixture.Manager.Initialize(context.Background())).To(Succeed())

			c, err := fixture.Manager.Registry().Get("acme.rogue")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.State()).To(Equal(plugins.StateFailed))
			Expect(c.FailureCause()).To(MatchError(ContainSubstring("unsigned")))
		})

		It("creates per-plugin data directories", func() {
			Expect(fixture.Manager.Initialize(context.Background())).To(Succeed())
			Expect(filepath.Join(fixture.Dir, "data", "acme.ledger")).To(BeADirectory())
			Expect(filepath.Join(fixture.Dir, "data", "acme.vat")).To(BeADirectory())
		})
	})

	Describe("Enable, Disable, and Ownership", func() {
		BeforeEach(func() {
			ctx := context.Background()
			Expect(fixture.Manager.Initialize(ctx)).To(Succeed())
			Expect(fixture.Manager.EnablePlugin(ctx, "acme.ledger")).To(Succeed())
			Expect(fixture.Manager.EnablePlugin(ctx, "acme.vat")).To(Succeed())
		})

		It("serves a provider's service to consumers", func() {
			svcType := reflect.TypeOf((*rateLookup)(nil)).Elem()
			Expect(fixture.Manager.Services().Register(svcType, flatRate{}, "acme.ledger")).To(Succeed())

			svc, err := fixture.Manager.Services().Get(svcType, "acme.ledger")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.(rateLookup).Rate("GB")).To(BeNumerically("==", 0.2))
		})

		It("delivers published events to subscribers", func() {
			ctx := context.Background()

			received := make(chan event.Envelope, 1)
			_, err := fixture.Manager.Bus().SubscribeFunc(reflect.TypeOf(submissionFiled{}),
				func(_ context.Context, e event.Envelope) { received <- e },
				event.Background, "acme.vat")
			Expect(err).NotTo(HaveOccurred())

			fixture.Manager.Bus().Publish(ctx, submissionFiled{Reference: "2026-Q2"})

			var got event.Envelope
			Eventually(received).Should(Receive(&got))
			Expect(got.Payload).To(Equal(submissionFiled{Reference: "2026-Q2"}))
		})

		It("tears down registrations when the owner is disabled", func() {
			ctx := context.Background()

			svcType := reflect.TypeOf((*rateLookup)(nil)).Elem()
			Expect(fixture.Manager.Services().Register(svcType, flatRate{}, "acme.ledger")).To(Succeed())
			_, err := fixture.Manager.Bus().SubscribeFunc(reflect.TypeOf(submissionFiled{}),
				func(context.Context, event.Envelope) {}, event.Background, "acme.ledger")
			Expect(err).NotTo(HaveOccurred())

			Expect(fixture.Manager.DisablePlugin(ctx, "acme.ledger")).To(Succeed())

			Expect(fixture.Manager.Services().All(svcType)).To(BeEmpty())
			Expect(fixture.Manager.Bus().SubscriptionCount(reflect.TypeOf(submissionFiled{}))).To(BeZero())
		})
	})

	Describe("Shutdown", func() {
		It("unloads every plugin and empties the registry", func() {
			ctx := context.Background()
			Expect(fixture.Manager.Initialize(ctx)).To(Succeed())
			Expect(fixture.Manager.EnablePlugin(ctx, "acme.ledger")).To(Succeed())

			Expect(fixture.Manager.Shutdown(ctx)).To(Succeed())
			Expect(fixture.Manager.Registry().Len()).To(BeZero())

			// Shutdown is terminal for the manager.
			Expect(fixture.Manager.Initialize(ctx)).NotTo(Succeed())
		})
	})
})
