package services

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"math/big"

	"entitlement-api/internal/apperrors"
)

// expectedAlgorithm is the only signing scheme Apple uses for signed
// transactions: ECDSA over P-256 with SHA-256.
const expectedAlgorithm = "ES256"

// SignatureVerifier verifies a signed transaction against the public key of
// its validated leaf certificate. This is the sole cryptographic trust
// boundary: payload fields must not be acted on before Verify succeeds.
type SignatureVerifier struct{}

// NewSignatureVerifier 创建签名验证器
func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// Verify checks the token signature over base64url(header)+"."+base64url(payload)
// using the leaf certificate's ECDSA P-256 public key.
func (v *SignatureVerifier) Verify(decoded *DecodedTransaction, leaf *x509.Certificate) error {
	if decoded.Header.Alg != expectedAlgorithm {
		return apperrors.Newf(apperrors.KindUnsupportedAlgorithm,
			"unsupported algorithm %q, expected %s", decoded.Header.Alg, expectedAlgorithm)
	}

	publicKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return apperrors.New(apperrors.KindUnsupportedAlgorithm,
			"leaf certificate does not carry an ECDSA public key")
	}

	signatureBytes, err := base64.RawURLEncoding.DecodeString(decoded.Segments[2])
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindSignatureMismatch, "failed to decode signature segment")
	}

	// JWS ES256 signatures are the raw r||s concatenation, 32 bytes each
	if len(signatureBytes) != 64 {
		return apperrors.Newf(apperrors.KindSignatureMismatch,
			"invalid signature length: expected 64, got %d", len(signatureBytes))
	}

	r := new(big.Int).SetBytes(signatureBytes[:32])
	s := new(big.Int).SetBytes(signatureBytes[32:])

	hash := sha256.Sum256(decoded.SigningInput())

	if !ecdsa.Verify(publicKey, hash[:], r, s) {
		return apperrors.New(apperrors.KindSignatureMismatch, "signature verification failed")
	}

	return nil
}
