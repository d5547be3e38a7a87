package domain

import "time"

// ReceiptKind classifies what a settlement receipt pays.
type ReceiptKind string

const (
	ReceiptWin   ReceiptKind = "win"
	ReceiptSplit ReceiptKind = "split"
	ReceiptFee   ReceiptKind = "fee"
	ReceiptClaim ReceiptKind = "claim"
)

// SettlementReceipt is a payout instruction produced by a resolve or claim.
// The signature covers the typed digest of (nonce, match id, kind,
// recipient, amount) under the service signing key, so downstream treasury
// systems can verify instruction authenticity before moving funds.
type SettlementReceipt struct {
	Nonce     string      `json:"nonce"` // uuid
	MatchID   string      `json:"match_id"`
	Kind      ReceiptKind `json:"kind"`
	Recipient Party       `json:"recipient"`
	Amount    uint64      `json:"amount"`
	IssuedAt  time.Time   `json:"issued_at"`
	Signature []byte      `json:"signature,omitempty"` // 65-byte secp256k1
}
