package market

import (
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// credit and debit are the only escrow mutators. Each touches exactly one
// (unit, account) key.

func credit(state core.State, unit, account core.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	bal, err := state.Balance(unit, account)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return core.ErrBalanceOverflow
	}
	return state.SetBalance(unit, account, next)
}

func debit(state core.State, unit, account core.Address, amount *uint256.Int) error {
	bal, err := state.Balance(unit, account)
	if err != nil {
		return err
	}
	if amount.Gt(bal) {
		return core.ErrInsufficientFunds
	}
	return state.SetBalance(unit, account, new(uint256.Int).Sub(bal, amount))
}
