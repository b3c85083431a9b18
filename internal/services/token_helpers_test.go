package services

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"entitlement-api/internal/models"
)

// testSigner mints a self-contained trust setup: a root CA carrying an Apple
// identity, a leaf signing certificate issued by it, and the leaf's key.
type testSigner struct {
	rootPool *x509.CertPool
	leafKey  *ecdsa.PrivateKey
	leafB64  string
	rootB64  string
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	now := time.Now()
	rootTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Apple Root CA",
			Organization: []string{"Apple Inc."},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			CommonName:   "Apple Worldwide Developer Relations Certification Authority",
			Organization: []string{"Apple Inc."},
		},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootCert, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(rootCert)

	return &testSigner{
		rootPool: pool,
		leafKey:  leafKey,
		leafB64:  base64.StdEncoding.EncodeToString(leafDER),
		rootB64:  base64.StdEncoding.EncodeToString(rootDER),
	}
}

// chain returns the x5c value, leaf first.
func (s *testSigner) chain() []string {
	return []string{s.leafB64, s.rootB64}
}

// signToken builds a signed transaction token over the given payload.
func (s *testSigner) signToken(t *testing.T, payload *models.TransactionPayload) string {
	t.Helper()
	return s.signTokenWithAlg(t, payload, "ES256")
}

func (s *testSigner) signTokenWithAlg(t *testing.T, payload *models.TransactionPayload, alg string) string {
	t.Helper()

	header := map[string]interface{}{
		"alg": alg,
		"x5c": s.chain(),
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	hash := sha256.Sum256([]byte(signingInput))
	r, sv, err := ecdsa.Sign(rand.Reader, s.leafKey, hash[:])
	require.NoError(t, err)

	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	sv.FillBytes(signature[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)
}

// freshPayload returns a currently valid payload for the given identifiers.
func freshPayload(transactionID, originalTransactionID string) *models.TransactionPayload {
	now := time.Now()
	return &models.TransactionPayload{
		TransactionID:         transactionID,
		OriginalTransactionID: originalTransactionID,
		ProductID:             "com.screentimeapp.monthly",
		BundleID:              "com.screentimeapp",
		Environment:           "Production",
		AppAccountToken:       "1e9f6e0a-7c2f-4f6e-9f27-000000000001",
		PurchaseDateMS:        now.Add(-time.Minute).UnixMilli(),
		ExpiresDateMS:         now.Add(30 * 24 * time.Hour).UnixMilli(),
		SignedDateMS:          now.Add(-time.Minute).UnixMilli(),
	}
}
