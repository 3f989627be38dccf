package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CallType identifies the operation a call performs.
type CallType string

const (
	CallList                 CallType = "list"
	CallUnlist               CallType = "unlist"
	CallUnlistStale          CallType = "unlist_stale"
	CallBuy                  CallType = "buy"
	CallReserve              CallType = "reserve"
	CallUpdateRoyalty        CallType = "update_royalty"
	CallRefreshRoyalty       CallType = "refresh_royalty"
	CallWithdraw             CallType = "withdraw"
	CallAddPaymentUnit       CallType = "add_payment_unit"
	CallChangeProtocolWallet CallType = "change_protocol_wallet"
	CallChangeProtocolFee    CallType = "change_protocol_fee"
	CallPause                CallType = "pause"
	CallUnpause              CallType = "unpause"
	CallGrantRole            CallType = "grant_role"
	CallRevokeRole           CallType = "revoke_role"
	CallTransferAdmin        CallType = "transfer_admin"
	CallUpgrade              CallType = "upgrade"
)

// Call is one state-changing request. From is the authenticated caller; the
// engine never infers identity from anywhere else.
type Call struct {
	ID      string          `json:"id"`
	Type    CallType        `json:"type"`
	From    Address         `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// NewCall creates a call with a fresh random ID.
func NewCall(typ CallType, from Address, payload any) (*Call, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	return &Call{
		ID:      uuid.NewString(),
		Type:    typ,
		From:    from,
		Payload: raw,
	}, nil
}

// ---- Payload types ----

// AssetRef names one asset.
type AssetRef struct {
	AssetContract Address      `json:"asset_contract"`
	AssetID       *uint256.Int `json:"asset_id"`
}

// ListPayload offers an asset for sale.
type ListPayload struct {
	AssetRef
	Price       *uint256.Int `json:"price"`
	PaymentUnit Address      `json:"payment_unit"`
}

// ReservePayload holds a listing for Reservee during Period seconds.
type ReservePayload struct {
	AssetRef
	Period   uint64  `json:"period"`
	Reservee Address `json:"reservee"`
}

// UpdateRoyaltyPayload sets the royalty amount cached on a listing.
type UpdateRoyaltyPayload struct {
	AssetRef
	Amount *uint256.Int `json:"amount"`
}

// WithdrawPayload pulls escrowed funds to the caller.
type WithdrawPayload struct {
	PaymentUnit Address      `json:"payment_unit"`
	Amount      *uint256.Int `json:"amount"`
}

// AddressPayload carries a single account (payment unit, wallet, admin).
type AddressPayload struct {
	Address Address `json:"address"`
}

// ProtocolFeePayload sets the protocol fee fraction.
type ProtocolFeePayload struct {
	Numerator   *uint256.Int `json:"numerator"`
	Denominator *uint256.Int `json:"denominator"`
}

// RolePayload grants or revokes a role.
type RolePayload struct {
	Role    Role    `json:"role"`
	Account Address `json:"account"`
}

// UpgradePayload swaps the logic implementation.
type UpgradePayload struct {
	Implementation string `json:"implementation"`
}
