// Package oracle provides in-memory asset and payment ledgers implementing the
// engine's oracle interfaces. The daemon uses them in dev mode; tests use them
// everywhere.
package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

var (
	ErrUnknownCollection   = errors.New("unknown collection")
	ErrCollectionExists    = errors.New("collection already deployed")
	ErrAssetExists         = errors.New("asset already minted")
	ErrNotAssetOwner       = errors.New("not asset owner")
	ErrTransferNotApproved = errors.New("transfer not approved")
	ErrZeroAmount          = errors.New("amount must be positive")
)

const royaltyBase = 10_000

// CollectionSpec describes a deployed asset contract.
type CollectionSpec struct {
	// Multi selects balance-based ownership instead of one owner per id.
	Multi bool `json:"multi"`
	// Royalty advertises the royalty query; the answer is
	// price*RoyaltyBps/10000 paid to RoyaltyReceiver.
	Royalty         bool         `json:"royalty"`
	RoyaltyReceiver core.Address `json:"royalty_receiver"`
	RoyaltyBps      uint64       `json:"royalty_bps"`
	// Owner is the collection owner; zero means none.
	Owner core.Address `json:"owner"`
}

type collection struct {
	spec      CollectionSpec
	owners    map[uint256.Int]core.Address
	balances  map[uint256.Int]map[core.Address]uint64
	approvals map[uint256.Int]core.Address
	operators map[core.Address]map[core.Address]bool
}

// AssetLedger is a thread-safe set of asset collections.
type AssetLedger struct {
	mu          sync.RWMutex
	collections map[core.Address]*collection
}

var _ core.AssetOracle = (*AssetLedger)(nil)

// NewAssetLedger creates an empty AssetLedger.
func NewAssetLedger() *AssetLedger {
	return &AssetLedger{collections: make(map[core.Address]*collection)}
}

// Deploy registers a collection at contract.
func (l *AssetLedger) Deploy(contract core.Address, spec CollectionSpec) error {
	if contract == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	if spec.RoyaltyBps > royaltyBase {
		return fmt.Errorf("royalty %d bps above %d", spec.RoyaltyBps, royaltyBase)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.collections[contract]; ok {
		return ErrCollectionExists
	}
	l.collections[contract] = &collection{
		spec:      spec,
		owners:    make(map[uint256.Int]core.Address),
		balances:  make(map[uint256.Int]map[core.Address]uint64),
		approvals: make(map[uint256.Int]core.Address),
		operators: make(map[core.Address]map[core.Address]bool),
	}
	return nil
}

func (l *AssetLedger) get(contract core.Address) (*collection, error) {
	c, ok := l.collections[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, contract.Hex())
	}
	return c, nil
}

// Asset implements core.AssetOracle.
func (l *AssetLedger) Asset(contract core.Address) (core.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.get(contract); err != nil {
		return nil, err
	}
	return &assetHandle{ledger: l, contract: contract}, nil
}

// Mint creates id for to. Single collections ignore amount.
func (l *AssetLedger) Mint(contract core.Address, id *uint256.Int, to core.Address, amount uint64) error {
	if to == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	if c.spec.Multi {
		if amount == 0 {
			return ErrZeroAmount
		}
		if c.balances[*id] == nil {
			c.balances[*id] = make(map[core.Address]uint64)
		}
		c.balances[*id][to] += amount
		return nil
	}
	if _, ok := c.owners[*id]; ok {
		return ErrAssetExists
	}
	c.owners[*id] = to
	return nil
}

// SetApprovalForAll lets operator move every asset of owner in contract.
func (l *AssetLedger) SetApprovalForAll(contract, owner, operator core.Address, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	if c.operators[owner] == nil {
		c.operators[owner] = make(map[core.Address]bool)
	}
	c.operators[owner][operator] = approved
	return nil
}

// Approve lets spender move the single asset id. Only the owner or one of its
// operators may approve.
func (l *AssetLedger) Approve(contract, caller, spender core.Address, id *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	if c.spec.Multi {
		return fmt.Errorf("%s: per-asset approval on a multi collection", contract.Hex())
	}
	owner, ok := c.owners[*id]
	if !ok || (owner != caller && !c.operators[owner][caller]) {
		return ErrNotAssetOwner
	}
	c.approvals[*id] = spender
	return nil
}

// SetRoyalty changes the royalty answer of a royalty collection.
func (l *AssetLedger) SetRoyalty(contract, receiver core.Address, bps uint64) error {
	if bps > royaltyBase {
		return fmt.Errorf("royalty %d bps above %d", bps, royaltyBase)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	c.spec.RoyaltyReceiver = receiver
	c.spec.RoyaltyBps = bps
	return nil
}

// SetOwner replaces the collection owner.
func (l *AssetLedger) SetOwner(contract, owner core.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	c.spec.Owner = owner
	return nil
}

// TransferFrom moves id (one unit for multi) from -> to on behalf of operator.
func (l *AssetLedger) TransferFrom(contract, operator, from, to core.Address, id *uint256.Int) error {
	if to == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.get(contract)
	if err != nil {
		return err
	}
	authorized := operator == from || c.operators[from][operator]
	if c.spec.Multi {
		if c.balances[*id][from] == 0 {
			return ErrNotAssetOwner
		}
		if !authorized {
			return ErrTransferNotApproved
		}
		c.balances[*id][from]--
		c.balances[*id][to]++
		return nil
	}
	if owner, ok := c.owners[*id]; !ok || owner != from {
		return ErrNotAssetOwner
	}
	if !authorized && c.approvals[*id] != operator {
		return ErrTransferNotApproved
	}
	c.owners[*id] = to
	delete(c.approvals, *id)
	return nil
}

// OwnerOf returns the owner of a single asset.
func (l *AssetLedger) OwnerOf(contract core.Address, id *uint256.Int) (core.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.get(contract)
	if err != nil {
		return core.ZeroAddress, err
	}
	owner, ok := c.owners[*id]
	if !ok {
		return core.ZeroAddress, core.ErrNotFound
	}
	return owner, nil
}

// BalanceOf returns how many units of id account holds.
func (l *AssetLedger) BalanceOf(contract core.Address, id *uint256.Int, account core.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.get(contract)
	if err != nil {
		return 0, err
	}
	if c.spec.Multi {
		return c.balances[*id][account], nil
	}
	if owner, ok := c.owners[*id]; ok && owner == account {
		return 1, nil
	}
	return 0, nil
}

// assetHandle is the capability view of one collection.
type assetHandle struct {
	ledger   *AssetLedger
	contract core.Address
}

var (
	_ core.Asset          = (*assetHandle)(nil)
	_ core.RoyaltyQuerier = (*assetHandle)(nil)
	_ core.Ownable        = (*assetHandle)(nil)
	_ core.TokenApprover  = (*assetHandle)(nil)
)

func (h *assetHandle) spec() (CollectionSpec, error) {
	h.ledger.mu.RLock()
	defer h.ledger.mu.RUnlock()
	c, err := h.ledger.get(h.contract)
	if err != nil {
		return CollectionSpec{}, err
	}
	return c.spec, nil
}

func (h *assetHandle) SupportsStandard(s core.Standard) bool {
	spec, err := h.spec()
	if err != nil {
		return false
	}
	switch s {
	case core.StandardSingle:
		return !spec.Multi
	case core.StandardMulti:
		return spec.Multi
	case core.StandardRoyalty:
		return spec.Royalty
	}
	return false
}

func (h *assetHandle) Holds(id *uint256.Int, account core.Address) (bool, error) {
	n, err := h.ledger.BalanceOf(h.contract, id, account)
	return n > 0, err
}

func (h *assetHandle) IsApprovedForAll(owner, operator core.Address) (bool, error) {
	h.ledger.mu.RLock()
	defer h.ledger.mu.RUnlock()
	c, err := h.ledger.get(h.contract)
	if err != nil {
		return false, err
	}
	return c.operators[owner][operator], nil
}

func (h *assetHandle) Transfer(operator, from, to core.Address, id *uint256.Int) error {
	return h.ledger.TransferFrom(h.contract, operator, from, to, id)
}

func (h *assetHandle) RoyaltyInfo(_ *uint256.Int, price *uint256.Int) (core.Address, *uint256.Int, error) {
	spec, err := h.spec()
	if err != nil {
		return core.ZeroAddress, nil, err
	}
	if !spec.Royalty {
		return core.ZeroAddress, new(uint256.Int), nil
	}
	amount, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(spec.RoyaltyBps), uint256.NewInt(royaltyBase))
	return spec.RoyaltyReceiver, amount, nil
}

func (h *assetHandle) Owner() (core.Address, bool, error) {
	spec, err := h.spec()
	if err != nil {
		return core.ZeroAddress, false, err
	}
	return spec.Owner, spec.Owner != core.ZeroAddress, nil
}

func (h *assetHandle) GetApproved(id *uint256.Int) (core.Address, error) {
	h.ledger.mu.RLock()
	defer h.ledger.mu.RUnlock()
	c, err := h.ledger.get(h.contract)
	if err != nil {
		return core.ZeroAddress, err
	}
	return c.approvals[*id], nil
}
