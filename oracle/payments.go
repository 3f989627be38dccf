package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

type allowanceKey struct {
	owner, spender core.Address
}

type unitLedger struct {
	balances   map[core.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

// PaymentLedger is a thread-safe set of fungible payment units.
type PaymentLedger struct {
	mu    sync.RWMutex
	units map[core.Address]*unitLedger
}

var _ core.PaymentOracle = (*PaymentLedger)(nil)

// NewPaymentLedger creates an empty PaymentLedger.
func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{units: make(map[core.Address]*unitLedger)}
}

func (p *PaymentLedger) unit(u core.Address) *unitLedger {
	ul, ok := p.units[u]
	if !ok {
		ul = &unitLedger{
			balances:   make(map[core.Address]*uint256.Int),
			allowances: make(map[allowanceKey]*uint256.Int),
		}
		p.units[u] = ul
	}
	return ul
}

func (ul *unitLedger) balance(a core.Address) *uint256.Int {
	if b, ok := ul.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}

// Mint creates amount of unit for to.
func (p *PaymentLedger) Mint(unit, to core.Address, amount *uint256.Int) error {
	if to == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ul := p.unit(unit)
	next, overflow := new(uint256.Int).AddOverflow(ul.balance(to), amount)
	if overflow {
		return core.ErrBalanceOverflow
	}
	ul.balances[to] = next
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (p *PaymentLedger) Approve(unit, owner, spender core.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unit(unit).allowances[allowanceKey{owner, spender}] = new(uint256.Int).Set(amount)
	return nil
}

func (p *PaymentLedger) BalanceOf(unit, account core.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ul, ok := p.units[unit]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(ul.balance(account)), nil
}

func (p *PaymentLedger) Allowance(unit, owner, spender core.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ul, ok := p.units[unit]
	if !ok {
		return new(uint256.Int), nil
	}
	if a, ok := ul.allowances[allowanceKey{owner, spender}]; ok {
		return new(uint256.Int).Set(a), nil
	}
	return new(uint256.Int), nil
}

// TransferFrom moves amount from -> to, spending spender's allowance unless
// spender is from.
func (p *PaymentLedger) TransferFrom(unit, spender, from, to core.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ul := p.unit(unit)
	if spender != from {
		key := allowanceKey{from, spender}
		allowed, ok := ul.allowances[key]
		if !ok || amount.Gt(allowed) {
			return fmt.Errorf("%w: %s for %s", ErrInsufficientAllowance, spender.Hex(), from.Hex())
		}
		if err := ul.move(from, to, amount); err != nil {
			return err
		}
		ul.allowances[key] = new(uint256.Int).Sub(allowed, amount)
		return nil
	}
	return ul.move(from, to, amount)
}

// Transfer moves amount from -> to.
func (p *PaymentLedger) Transfer(unit, from, to core.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unit(unit).move(from, to, amount)
}

func (ul *unitLedger) move(from, to core.Address, amount *uint256.Int) error {
	if to == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	have := ul.balance(from)
	if amount.Gt(have) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have.Dec(), amount.Dec())
	}
	ul.balances[from] = new(uint256.Int).Sub(have, amount)
	ul.balances[to] = new(uint256.Int).Add(ul.balance(to), amount)
	return nil
}
