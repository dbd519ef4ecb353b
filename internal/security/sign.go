// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package security

import (
	"archive/zip"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"
)

// Identity is a publisher signing identity: a self-signed ECDSA P-256
// certificate and its private key.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	CertPEM     []byte
}

// Subject returns the identity string compared against the
// trusted-publisher set.
func (id *Identity) Subject() string {
	return id.Certificate.Subject.String()
}

// NewIdentity generates a publisher signing identity.
func NewIdentity(commonName, organization string) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Identity{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes}),
	}, nil
}

// SignBundle rewrites the bundle at src into dst, copying its content
// entries and attaching the META signature entries: a SHA-256 digest
// manifest, the signer's certificate chain, and an ECDSA signature
// over the manifest.
func SignBundle(src, dst string, id *Identity) error {
	in, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only close

	out, err := os.Create(dst) //nolint:gosec // dst comes from the signer invocation
	if err != nil {
		return fmt.Errorf("create signed bundle: %w", err)
	}
	defer out.Close() //nolint:errcheck // close error surfaced via zw.Close

	zw := zip.NewWriter(out)
	digests := make(map[string]string)

	for _, f := range in.File {
		if strings.HasPrefix(f.Name, metaDir) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close() //nolint:errcheck,gosec // read-only close
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}

		w, err := zw.Create(f.Name)
		if err != nil {
			return fmt.Errorf("write entry %s: %w", f.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write entry %s: %w", f.Name, err)
		}

		if !strings.HasSuffix(f.Name, "/") {
			sum := sha256.Sum256(data)
			digests[f.Name] = hex.EncodeToString(sum[:])
		}
	}

	manifest := renderDigestManifest(digests)
	digest := sha256.Sum256(manifest)
	sig, err := ecdsa.SignASN1(rand.Reader, id.PrivateKey, digest[:])
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}

	for _, meta := range []struct {
		name string
		data []byte
	}{
		{manifestEntry, manifest},
		{certificateEntry, id.CertPEM},
		{signatureEntry, sig},
	} {
		w, err := zw.Create(meta.name)
		if err != nil {
			return fmt.Errorf("write %s: %w", meta.name, err)
		}
		if _, err := w.Write(meta.data); err != nil {
			return fmt.Errorf("write %s: %w", meta.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize signed bundle: %w", err)
	}
	return out.Close()
}

func renderDigestManifest(digests map[string]string) []byte {
	names := make([]string, 0, len(digests))
	for name := range digests {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", digests[name], name)
	}
	return []byte(b.String())
}
