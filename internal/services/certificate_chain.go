package services

import (
	"crypto/x509"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"time"

	"entitlement-api/internal/apperrors"
)

// appleIdentity 苹果证书标识
// Substrings that identify Apple-operated certificates by subject/issuer.
var appleIdentity = []string{
	"Apple Root CA",
	"Apple Inc.",
	"Apple Computer, Inc.",
	"Apple Worldwide Developer Relations",
}

// CertificateChainValidator validates the x5c certificate chain carried in a
// signed transaction header. The certificate cache is owned by the validator
// and time-bounded; construct one instance at startup and inject it.
type CertificateChainValidator struct {
	roots *x509.CertPool // pinned root authorities; nil falls back to intra-chain checks

	certCache map[string]cachedCertificate
	mutex     sync.RWMutex
	cacheTTL  time.Duration
}

type cachedCertificate struct {
	cert     *x509.Certificate
	cachedAt time.Time
}

// NewCertificateChainValidator 创建证书链验证器
// roots may be nil in development; production deployments pin the Apple root.
func NewCertificateChainValidator(roots *x509.CertPool) *CertificateChainValidator {
	return &CertificateChainValidator{
		roots:     roots,
		certCache: make(map[string]cachedCertificate),
		cacheTTL:  24 * time.Hour,
	}
}

// Validate parses and validates the certificate chain, returning the leaf
// certificate on success. The chain is ordered leaf first, each entry a
// base64-encoded DER certificate.
func (v *CertificateChainValidator) Validate(x5c []string) (*x509.Certificate, error) {
	if len(x5c) == 0 {
		return nil, apperrors.New(apperrors.KindEmptyChain, "certificate chain is empty")
	}

	chain := make([]*x509.Certificate, 0, len(x5c))
	for i, encoded := range x5c {
		cert, err := v.parseCertificate(encoded)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInvalidCertificate,
				"failed to parse certificate "+strconv.Itoa(i))
		}
		chain = append(chain, cert)
	}

	leaf := chain[0]

	// Leaf identity must indicate the expected vendor on both sides
	if !matchesAppleIdentity(leaf.Subject.String()) || !matchesAppleIdentity(leaf.Issuer.String()) {
		return nil, apperrors.New(apperrors.KindUntrustedIssuer,
			"leaf certificate subject/issuer is not an Apple identity")
	}

	// Validity window
	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return nil, apperrors.New(apperrors.KindCertificateExpired,
			"leaf certificate is expired or not yet valid")
	}

	if err := v.verifyChainOfTrust(chain, now); err != nil {
		return nil, err
	}

	return leaf, nil
}

// verifyChainOfTrust walks the chain cryptographically. With a pinned root
// pool the leaf must verify up to one of the pinned roots; without one
// (development, sandbox smoke tests) each certificate's signature is checked
// against its parent in the supplied chain.
func (v *CertificateChainValidator) verifyChainOfTrust(chain []*x509.Certificate, now time.Time) error {
	if v.roots != nil {
		intermediates := x509.NewCertPool()
		for _, cert := range chain[1:] {
			intermediates.AddCert(cert)
		}
		opts := x509.VerifyOptions{
			Roots:         v.roots,
			Intermediates: intermediates,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}
		if _, err := chain[0].Verify(opts); err != nil {
			return apperrors.Wrap(err, apperrors.KindUntrustedIssuer,
				"certificate chain does not terminate at a pinned root")
		}
		return nil
	}

	for i := 0; i < len(chain)-1; i++ {
		if now.Before(chain[i+1].NotBefore) || now.After(chain[i+1].NotAfter) {
			return apperrors.New(apperrors.KindCertificateExpired,
				"intermediate certificate "+strconv.Itoa(i+1)+" is expired or not yet valid")
		}
		if err := chain[i].CheckSignatureFrom(chain[i+1]); err != nil {
			return apperrors.Wrap(err, apperrors.KindUntrustedIssuer,
				"certificate "+strconv.Itoa(i)+" is not signed by its parent")
		}
	}
	return nil
}

// parseCertificate decodes a base64 DER certificate, serving repeats from the
// time-bounded cache.
func (v *CertificateChainValidator) parseCertificate(encoded string) (*x509.Certificate, error) {
	v.mutex.RLock()
	if entry, exists := v.certCache[encoded]; exists && time.Since(entry.cachedAt) < v.cacheTTL {
		v.mutex.RUnlock()
		return entry.cert, nil
	}
	v.mutex.RUnlock()

	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	v.mutex.Lock()
	v.certCache[encoded] = cachedCertificate{cert: cert, cachedAt: time.Now()}
	v.mutex.Unlock()

	return cert, nil
}

// ClearCache 清除证书缓存
func (v *CertificateChainValidator) ClearCache() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.certCache = make(map[string]cachedCertificate)
}

func matchesAppleIdentity(name string) bool {
	for _, identity := range appleIdentity {
		if strings.Contains(name, identity) {
			return true
		}
	}
	return false
}
