package services

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/models"
)

// JWSHeader represents the protected header of a signed transaction
type JWSHeader struct {
	Alg string   `json:"alg"`
	X5C []string `json:"x5c"`
}

// DecodedTransaction holds the structurally parsed parts of a signed
// transaction. Nothing here is trusted until the certificate chain and
// signature checks pass.
type DecodedTransaction struct {
	Header   JWSHeader
	Payload  *models.TransactionPayload
	Segments [3]string // raw base64url segments: header, payload, signature
}

// DecodeSignedTransaction splits and decodes a three-segment signed token.
// Pure structural parsing: every failure is MalformedToken.
func DecodeSignedTransaction(token string) (*DecodedTransaction, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.KindMalformedToken, "signed transaction is empty")
	}

	// JWS format: header.payload.signature
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, apperrors.Newf(apperrors.KindMalformedToken,
			"invalid JWS format: expected 3 segments, got %d", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindMalformedToken, "failed to decode JWS header")
	}

	var header JWSHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindMalformedToken, "JWS header is not a JSON object")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindMalformedToken, "failed to decode JWS payload")
	}

	var payload models.TransactionPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindMalformedToken, "JWS payload is not a JSON object")
	}

	// Identity fields must be present for anything downstream to key on
	if payload.TransactionID == "" {
		return nil, apperrors.New(apperrors.KindMalformedToken, "transactionId is missing in payload")
	}
	if payload.OriginalTransactionID == "" {
		return nil, apperrors.New(apperrors.KindMalformedToken, "originalTransactionId is missing in payload")
	}

	return &DecodedTransaction{
		Header:   header,
		Payload:  &payload,
		Segments: [3]string{parts[0], parts[1], parts[2]},
	}, nil
}

// SigningInput returns the byte string the signature covers:
// base64url(header) + "." + base64url(payload).
func (d *DecodedTransaction) SigningInput() []byte {
	return []byte(d.Segments[0] + "." + d.Segments[1])
}
