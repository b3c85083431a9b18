package models

import (
	"time"
)

// TransactionPayload represents the decoded payload of a signed App Store
// transaction. Apple encodes dates as milliseconds since epoch; they are kept
// raw here and exposed through the typed accessors so the decode happens once.
type TransactionPayload struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"` // "Production" or "Sandbox"
	AppAccountToken       string `json:"appAccountToken"`
	InAppOwnershipType    string `json:"inAppOwnershipType"`

	PurchaseDateMS int64 `json:"purchaseDate"`
	ExpiresDateMS  int64 `json:"expiresDate"`
	SignedDateMS   int64 `json:"signedDate"`

	// OfferType 1 means an introductory (trial) offer
	OfferType int `json:"offerType"`
}

// PurchaseDate returns the purchase date as time.Time.
func (p *TransactionPayload) PurchaseDate() time.Time {
	return time.UnixMilli(p.PurchaseDateMS)
}

// ExpiresDate returns the expiration date as time.Time.
func (p *TransactionPayload) ExpiresDate() time.Time {
	return time.UnixMilli(p.ExpiresDateMS)
}

// SignedDate returns the signing timestamp as time.Time. Zero when the vendor
// did not include signedDate.
func (p *TransactionPayload) SignedDate() time.Time {
	if p.SignedDateMS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.SignedDateMS)
}

// IsTrialPeriod reports whether the transaction is in an introductory offer.
func (p *TransactionPayload) IsTrialPeriod() bool {
	return p.OfferType == 1
}
