package core

import "github.com/holiman/uint256"

// State is the persisted marketplace storage. Logic borrows it for the
// duration of one call; it never owns it. Implementations must be
// snapshot-able so the executor can roll back failed calls.
type State interface {
	// Listings, dense store + (contract, id) index
	ListingCount() (uint64, error)
	SetListingCount(n uint64) error
	ListingAt(ptr uint64) (*Listing, error)
	SetListingAt(ptr uint64, l *Listing) error
	DeleteListingAt(ptr uint64) error
	ListingPointer(contract Address, id *uint256.Int) (ptr uint64, ok bool, err error)
	SetListingPointer(contract Address, id *uint256.Int, ptr uint64) error
	DeleteListingPointer(contract Address, id *uint256.Int) error

	// Escrow
	Balance(unit, account Address) (*uint256.Int, error)
	SetBalance(unit, account Address, amount *uint256.Int) error

	// Access control
	HasRole(role Role, account Address) (bool, error)
	SetRole(role Role, account Address, granted bool) error
	RoleMembers(role Role) ([]Address, error)

	// Protocol parameters
	Params() (*Params, error)
	SetParams(p *Params) error
	IsPaymentUnit(unit Address) (bool, error)
	AddPaymentUnit(unit Address) error
	PaymentUnits() ([]Address, error)

	// Logic pointer and layout version
	Implementation() (string, error)
	SetImplementation(name string) error
	SchemaVersion() (uint64, error)
	SetSchemaVersion(v uint64) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot hashes every persisted key, the logic pointer included.
	ComputeRoot() string
	// DataRoot hashes listings, balances, roles, units and parameters only.
	DataRoot() string
	Commit() error
}
