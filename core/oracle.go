package core

import "github.com/holiman/uint256"

// Standard names an interface an asset contract may advertise.
type Standard uint8

const (
	StandardSingle  Standard = iota + 1 // one owner per asset id
	StandardMulti                       // balances per (asset id, account)
	StandardRoyalty                     // answers RoyaltyInfo
)

// AssetOracle resolves asset contracts. The engine never writes asset state
// except through Asset.Transfer during a sale.
type AssetOracle interface {
	// Asset returns the capability surface of contract. Unknown contracts
	// return an error.
	Asset(contract Address) (Asset, error)
}

// Asset is the minimal capability every listable contract must provide.
type Asset interface {
	SupportsStandard(s Standard) bool
	// Holds reports whether account owns id (single) or holds at least one
	// unit of id (multi).
	Holds(id *uint256.Int, account Address) (bool, error)
	// IsApprovedForAll reports whether operator may move every asset of owner.
	IsApprovedForAll(owner, operator Address) (bool, error)
	// Transfer moves id (one unit for multi assets) from -> to on behalf of
	// operator.
	Transfer(operator, from, to Address, id *uint256.Int) error
}

// RoyaltyQuerier is implemented by assets advertising StandardRoyalty.
type RoyaltyQuerier interface {
	RoyaltyInfo(id, price *uint256.Int) (Address, *uint256.Int, error)
}

// Ownable is implemented by contracts with a collection owner. ok is false
// when the contract exposes the capability but has no owner set.
type Ownable interface {
	Owner() (owner Address, ok bool, err error)
}

// TokenApprover is implemented by single assets supporting per-id approval.
type TokenApprover interface {
	GetApproved(id *uint256.Int) (Address, error)
}

// PaymentOracle is the fungible ledger behind every payment unit.
type PaymentOracle interface {
	BalanceOf(unit, account Address) (*uint256.Int, error)
	Allowance(unit, owner, spender Address) (*uint256.Int, error)
	TransferFrom(unit, spender, from, to Address, amount *uint256.Int) error
	Transfer(unit, from, to Address, amount *uint256.Int) error
}
