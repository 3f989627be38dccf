package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address identifies an account, an asset contract or a payment unit.
type Address = common.Address

// ZeroAddress is the "none" account.
var ZeroAddress Address

// HexToAddress parses a 0x-prefixed hex account.
func HexToAddress(s string) Address { return common.HexToAddress(s) }

// IsHexAddress reports whether s is a well-formed hex account.
func IsHexAddress(s string) bool { return common.IsHexAddress(s) }

// MaxReservePeriod bounds a reservation, in seconds.
const MaxReservePeriod uint64 = 24 * 60 * 60

// AssetKind classifies the asset behind a listing.
type AssetKind uint8

const (
	AssetSingle        AssetKind = iota // non-fungible single
	AssetSingleRoyalty                  // non-fungible single with royalty query
	AssetMulti                          // fungible-multi
	AssetMultiRoyalty                   // fungible-multi with royalty query
)

// HasRoyalty reports whether the asset answers royalty queries natively.
func (k AssetKind) HasRoyalty() bool { return k == AssetSingleRoyalty || k == AssetMultiRoyalty }

// IsMulti reports whether ownership is balance based.
func (k AssetKind) IsMulti() bool { return k == AssetMulti || k == AssetMultiRoyalty }

func (k AssetKind) String() string {
	switch k {
	case AssetSingle:
		return "single"
	case AssetSingleRoyalty:
		return "single_royalty"
	case AssetMulti:
		return "multi"
	case AssetMultiRoyalty:
		return "multi_royalty"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Listing is an offer to sell one asset for a price in a payment unit.
// ListPtr is the listing's current slot in the dense store and changes when
// other listings are removed.
type Listing struct {
	ListPtr         uint64       `json:"list_ptr"`
	AssetContract   Address      `json:"asset_contract"`
	AssetID         *uint256.Int `json:"asset_id"`
	Seller          Address      `json:"seller"`
	Price           *uint256.Int `json:"price"`
	PaymentUnit     Address      `json:"payment_unit"`
	Kind            AssetKind    `json:"kind"`
	ReservedUntil   uint64       `json:"reserved_until"` // unix seconds; 0 → not reserved
	ReservedFor     Address      `json:"reserved_for"`
	RoyaltyReceiver Address      `json:"royalty_receiver"`
	RoyaltyAmount   *uint256.Int `json:"royalty_amount"`
	ListedAt        uint64       `json:"listed_at,omitempty"` // schema 2+
}

// Copy returns a deep copy so callers cannot alias stored amounts.
func (l *Listing) Copy() *Listing {
	if l == nil {
		return nil
	}
	cp := *l
	cp.AssetID = cloneInt(l.AssetID)
	cp.Price = cloneInt(l.Price)
	cp.RoyaltyAmount = cloneInt(l.RoyaltyAmount)
	return &cp
}

// ReservationActive reports whether the listing is held for ReservedFor at now.
func (l *Listing) ReservationActive(now uint64) bool {
	return l.ReservedUntil != 0 && now < l.ReservedUntil
}

// Params are the protocol-wide parameters.
type Params struct {
	Administrator  Address      `json:"administrator"`
	ProtocolWallet Address      `json:"protocol_wallet"`
	FeeNumerator   *uint256.Int `json:"fee_numerator"`
	FeeDenominator *uint256.Int `json:"fee_denominator"`
	Paused         bool         `json:"paused"`
}

// Copy returns a deep copy of p.
func (p *Params) Copy() *Params {
	if p == nil {
		return nil
	}
	cp := *p
	cp.FeeNumerator = cloneInt(p.FeeNumerator)
	cp.FeeDenominator = cloneInt(p.FeeDenominator)
	return &cp
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
