package domain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hook is one pre- or post-interaction hook declared in app-data.
type Hook struct {
	Target   string `json:"target"`
	CallData string `json:"callData"`
	GasLimit uint64 `json:"gasLimit"`
}

// Hooks groups the pre- and post-settlement hooks of an order.
type Hooks struct {
	Pre  []Hook `json:"pre,omitempty"`
	Post []Hook `json:"post,omitempty"`
}

// ReplacedOrder names the uid of an order this one replaces.
type ReplacedOrder struct {
	Uid string `json:"uid"`
}

// PartnerFee is a referral fee taken on top of the protocol fee.
type PartnerFee struct {
	Bps       uint64 `json:"bps"`
	Recipient string `json:"recipient"`
}

// Flashloan declares a flash-loan an order's pre-interactions draw on.
type Flashloan struct {
	Lender   *string `json:"lender,omitempty"`
	Borrower *string `json:"borrower,omitempty"`
	Token    string  `json:"token"`
	Amount   string  `json:"amount"`
}

// Metadata is the app-data "metadata" object.
type Metadata struct {
	Hooks         *Hooks         `json:"hooks,omitempty"`
	Signer        *string        `json:"signer,omitempty"`
	ReplacedOrder *ReplacedOrder `json:"replacedOrder,omitempty"`
	PartnerFee    *PartnerFee    `json:"partnerFee,omitempty"`
	Flashloan     *Flashloan     `json:"flashloan,omitempty"`
}

// legacyBackend is the deprecated top-level "backend" object, honoured only
// when metadata is entirely absent from the document.
type legacyBackend struct {
	Hooks *Hooks `json:"hooks,omitempty"`
}

// rawAppData is the root app-data JSON document. Unknown fields are not
// decoded here; the raw-document round-trip stays lossless through
// AppData.Raw.
type rawAppData struct {
	Metadata *Metadata      `json:"metadata,omitempty"`
	Backend  *legacyBackend `json:"backend,omitempty"`
}

// AppData is the parsed app-data document plus the raw bytes it was parsed
// from. Hash is computed over the raw bytes, never the re-serialized form.
type AppData struct {
	Raw      []byte
	Document rawAppData
}

// ErrAppDataTooLarge is returned when a document exceeds the configured
// size limit.
type ErrAppDataTooLarge struct {
	Size, Limit int
}

func (e ErrAppDataTooLarge) Error() string {
	return fmt.Sprintf("domain: app-data size %d exceeds limit %d", e.Size, e.Limit)
}

// ParseAppData enforces the size limit before attempting to parse, and
// before hashing: a too-large payload is rejected outright regardless of
// whether it would parse.
func ParseAppData(raw []byte, sizeLimit int) (AppData, error) {
	if len(raw) > sizeLimit {
		return AppData{}, ErrAppDataTooLarge{Size: len(raw), Limit: sizeLimit}
	}

	var doc rawAppData
	if err := json.Unmarshal(raw, &doc); err != nil {
		return AppData{}, fmt.Errorf("domain: app-data: %w", err)
	}
	return AppData{Raw: raw, Document: doc}, nil
}

// Hash returns the 32-byte hash of the raw app-data bytes, which is the
// value referenced by Order.AppData.
func (a AppData) Hash() [32]byte {
	return crypto.Keccak256Hash(a.Raw)
}

// Hooks returns the effective hooks for this document: metadata.hooks when
// metadata is present (even if its hooks field is itself empty), otherwise
// the legacy backend.hooks, otherwise none. The legacy path is consulted
// only when metadata is entirely absent, not merely empty.
func (a AppData) Hooks() *Hooks {
	if a.Document.Metadata != nil {
		return a.Document.Metadata.Hooks
	}
	if a.Document.Backend != nil {
		return a.Document.Backend.Hooks
	}
	return nil
}
