// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package security

import (
	"archive/zip"
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Bundle META entry names. Everything under metaDir is signature
// machinery, not plugin content.
const (
	metaDir          = "META/"
	manifestEntry    = "META/manifest.sha256"
	certificateEntry = "META/cert.pem"
	signatureEntry   = "META/manifest.sig"
)

// Verdict classifies a bundle's signature.
type Verdict uint8

const (
	// VerdictUnsigned means no entry carries a signature. Acceptable
	// only when policy does not mandate signatures.
	VerdictUnsigned Verdict = iota
	// VerdictInvalid means signature material exists but cannot be
	// honored: unreadable certificates, uncovered entries, or a
	// signature that does not verify.
	VerdictInvalid
	// VerdictUntrusted means the signature verifies but the signer is
	// not a trusted publisher.
	VerdictUntrusted
	// VerdictTrusted means the signature verifies and the signer is a
	// trusted publisher.
	VerdictTrusted
	// VerdictRevoked means the signing certificate is on the
	// revocation list. Always rejected, trusted publisher or not.
	VerdictRevoked
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnsigned:
		return "unsigned"
	case VerdictInvalid:
		return "invalid"
	case VerdictUntrusted:
		return "untrusted"
	case VerdictTrusted:
		return "trusted"
	case VerdictRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Result carries the trust verdict for one bundle.
type Result struct {
	Verdict     Verdict
	Signer      string // leaf certificate subject, when extractable
	Fingerprint string // leaf certificate fingerprint, when extractable
	Detail      string // human-readable cause for Invalid/Revoked
}

// Verifier validates bundle signatures against a trusted-publisher set
// and a revocation list. Both are explicit configuration, not
// process-wide state. Safe for concurrent use.
type Verifier struct {
	mu          sync.RWMutex
	trusted     map[string]struct{}
	revocations *RevocationList
}

// NewVerifier creates a verifier. trustedSubjects are certificate
// subject identity strings compared verbatim against the leaf subject.
// A nil revocation list revokes nothing.
func NewVerifier(trustedSubjects []string, revocations *RevocationList) *Verifier {
	if revocations == nil {
		revocations = NewRevocationList()
	}
	v := &Verifier{
		trusted:     make(map[string]struct{}, len(trustedSubjects)),
		revocations: revocations,
	}
	for _, s := range trustedSubjects {
		v.trusted[s] = struct{}{}
	}
	return v
}

// SetTrusted replaces the trusted-publisher set.
func (v *Verifier) SetTrusted(subjects []string) {
	next := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		next[s] = struct{}{}
	}
	v.mu.Lock()
	v.trusted = next
	v.mu.Unlock()
}

func (v *Verifier) isTrusted(subject string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.trusted[subject]
	return ok
}

// Verify reads the bundle and classifies its signature. Reading every
// entry through the digest check is what establishes coverage; an
// entry the manifest does not cover makes the bundle invalid.
func (v *Verifier) Verify(bundlePath string) (*Result, error) {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, oops.Code("BUNDLE_UNREADABLE").
			With("path", bundlePath).
			Wrapf(err, "open bundle")
	}
	defer r.Close() //nolint:errcheck // read-only close

	var manifestData, certData, sigData []byte
	for _, f := range r.File {
		switch f.Name {
		case manifestEntry:
			manifestData, err = readEntry(f)
		case certificateEntry:
			certData, err = readEntry(f)
		case signatureEntry:
			sigData, err = readEntry(f)
		}
		if err != nil {
			return nil, oops.Code("BUNDLE_UNREADABLE").
				With("path", bundlePath).
				Wrapf(err, "read %s", f.Name)
		}
	}

	if manifestData == nil && certData == nil && sigData == nil {
		return &Result{Verdict: VerdictUnsigned}, nil
	}
	if manifestData == nil || certData == nil || sigData == nil {
		return &Result{
			Verdict: VerdictInvalid,
			Detail:  "incomplete signature metadata",
		}, nil
	}

	// Signer information must be extractable from signed entries.
	leaf, certs, parseErr := parseCertificates(certData)
	if parseErr != nil {
		return &Result{
			Verdict: VerdictInvalid,
			Detail:  fmt.Sprintf("cannot extract signer: %v", parseErr),
		}, nil
	}
	result := &Result{
		Signer:      leaf.Subject.String(),
		Fingerprint: Fingerprint(leaf.Raw),
	}

	// Every content entry must be covered by the digest manifest and
	// match it.
	if detail := verifyDigests(&r.Reader, manifestData); detail != "" {
		result.Verdict = VerdictInvalid
		result.Detail = detail
		return result, nil
	}

	// The manifest itself must be signed by the leaf key.
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		result.Verdict = VerdictInvalid
		result.Detail = fmt.Sprintf("unsupported signing key type %T", leaf.PublicKey)
		return result, nil
	}
	digest := sha256.Sum256(manifestData)
	if !ecdsa.VerifyASN1(pub, digest[:], sigData) {
		result.Verdict = VerdictInvalid
		result.Detail = "manifest signature does not verify"
		return result, nil
	}

	// Revocation is checked before signature trust is honored: a
	// revoked certificate rejects the bundle even for a trusted signer.
	for _, cert := range certs {
		if entry, revoked := v.revocations.Lookup(Fingerprint(cert.Raw)); revoked {
			result.Verdict = VerdictRevoked
			result.Detail = entry.Reason
			return result, nil
		}
	}

	if v.isTrusted(result.Signer) {
		result.Verdict = VerdictTrusted
	} else {
		result.Verdict = VerdictUntrusted
	}
	return result, nil
}

// Check verifies the bundle and enforces policy: revoked, invalid, and
// untrusted bundles are always rejected; unsigned bundles only when
// requireSignature is set.
func (v *Verifier) Check(bundlePath string, requireSignature bool) error {
	result, err := v.Verify(bundlePath)
	if err != nil {
		return err
	}

	switch result.Verdict {
	case VerdictTrusted:
		return nil
	case VerdictUnsigned:
		if !requireSignature {
			return nil
		}
		return oops.Code("SECURITY_UNSIGNED").
			With("path", bundlePath).
			Errorf("bundle is unsigned and policy mandates signatures")
	case VerdictRevoked:
		return oops.Code("SECURITY_REVOKED").
			With("path", bundlePath).
			With("signer", result.Signer).
			With("fingerprint", result.Fingerprint).
			Errorf("signing certificate is revoked: %s", result.Detail)
	case VerdictUntrusted:
		return oops.Code("SECURITY_UNTRUSTED").
			With("path", bundlePath).
			With("signer", result.Signer).
			Errorf("signer %s is not a trusted publisher", result.Signer)
	default:
		return oops.Code("SECURITY_INVALID").
			With("path", bundlePath).
			Errorf("bundle signature is invalid: %s", result.Detail)
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck // read-only close
	return io.ReadAll(rc)
}

// parseCertificates decodes a PEM chain, leaf first.
func parseCertificates(pemData []byte) (*x509.Certificate, []*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("no certificates in chain")
	}
	return certs[0], certs, nil
}

// verifyDigests re-reads every content entry and compares its SHA-256
// against the manifest. Returns "" on success or a failure detail.
func verifyDigests(r *zip.Reader, manifestData []byte) string {
	expected, err := parseDigestManifest(manifestData)
	if err != nil {
		return fmt.Sprintf("digest manifest unreadable: %v", err)
	}

	seen := make(map[string]struct{}, len(expected))
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, metaDir) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		want, covered := expected[f.Name]
		if !covered {
			return fmt.Sprintf("entry %s is not covered by the signature", f.Name)
		}
		seen[f.Name] = struct{}{}

		rc, err := f.Open()
		if err != nil {
			return fmt.Sprintf("entry %s unreadable: %v", f.Name, err)
		}
		h := sha256.New()
		_, err = io.Copy(h, rc)
		rc.Close() //nolint:errcheck,gosec // read-only close
		if err != nil {
			return fmt.Sprintf("entry %s unreadable: %v", f.Name, err)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Sprintf("entry %s digest mismatch", f.Name)
		}
	}

	for name := range expected {
		if _, ok := seen[name]; !ok {
			return fmt.Sprintf("signed entry %s is missing from the bundle", name)
		}
	}
	return ""
}

// parseDigestManifest reads "hexdigest  path" lines.
func parseDigestManifest(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		digest, name, ok := strings.Cut(line, "  ")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		out[name] = strings.ToLower(strings.TrimSpace(digest))
	}
	return out, scanner.Err()
}
