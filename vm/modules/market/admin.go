package market

import (
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

// Administrative calls are not gated by the pause switch.

func handleAddPaymentUnit(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AddressPayload
	if err := decode(payload, &p, "add_payment_unit"); err != nil {
		return err
	}
	if _, err := requireAdmin(ctx.State, ctx.Call.From); err != nil {
		return err
	}
	if p.Address == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	exists, err := ctx.State.IsPaymentUnit(p.Address)
	if err != nil || exists {
		return err
	}
	if err := ctx.State.AddPaymentUnit(p.Address); err != nil {
		return err
	}
	ctx.Emit(events.EventPaymentTokenAdded, map[string]any{"payment_unit": p.Address})
	return nil
}

func handleChangeProtocolWallet(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AddressPayload
	if err := decode(payload, &p, "change_protocol_wallet"); err != nil {
		return err
	}
	params, err := requireAdmin(ctx.State, ctx.Call.From)
	if err != nil {
		return err
	}
	if p.Address == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	previous := params.ProtocolWallet
	params.ProtocolWallet = p.Address
	if err := ctx.State.SetParams(params); err != nil {
		return err
	}
	ctx.Emit(events.EventProtocolWalletChanged, map[string]any{
		"previous":        previous,
		"protocol_wallet": p.Address,
	})
	return nil
}

// handleChangeProtocolFee replaces the fee fraction. Existing listings are
// not rescanned; one whose royalty no longer fits fails at buy time.
func handleChangeProtocolFee(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ProtocolFeePayload
	if err := decode(payload, &p, "change_protocol_fee"); err != nil {
		return err
	}
	params, err := requireAdmin(ctx.State, ctx.Call.From)
	if err != nil {
		return err
	}
	if p.Denominator == nil || p.Denominator.IsZero() {
		return core.ErrZeroDenominator
	}
	num := p.Numerator
	if num == nil {
		num = new(uint256.Int)
	}
	if num.Gt(p.Denominator) {
		return core.ErrFeeTooHigh
	}
	params.FeeNumerator = num
	params.FeeDenominator = p.Denominator
	if err := ctx.State.SetParams(params); err != nil {
		return err
	}
	ctx.Emit(events.EventProtocolFeeChanged, map[string]any{
		"fee_numerator":   num,
		"fee_denominator": p.Denominator,
	})
	return nil
}

func handlePause(ctx *vm.Context, _ json.RawMessage) error {
	params, err := requireAdmin(ctx.State, ctx.Call.From)
	if err != nil {
		return err
	}
	if params.Paused {
		return core.ErrContractPaused
	}
	params.Paused = true
	if err := ctx.State.SetParams(params); err != nil {
		return err
	}
	ctx.Emit(events.EventPaused, map[string]any{"account": ctx.Call.From})
	return nil
}

func handleUnpause(ctx *vm.Context, _ json.RawMessage) error {
	params, err := requireAdmin(ctx.State, ctx.Call.From)
	if err != nil {
		return err
	}
	if !params.Paused {
		return core.ErrNotPaused
	}
	params.Paused = false
	if err := ctx.State.SetParams(params); err != nil {
		return err
	}
	ctx.Emit(events.EventUnpaused, map[string]any{"account": ctx.Call.From})
	return nil
}

func handleGrantRole(ctx *vm.Context, payload json.RawMessage) error {
	return setRole(ctx, payload, true)
}

func handleRevokeRole(ctx *vm.Context, payload json.RawMessage) error {
	return setRole(ctx, payload, false)
}

// setRole is a no-op when the assignment already matches.
func setRole(ctx *vm.Context, payload json.RawMessage, grant bool) error {
	var p core.RolePayload
	if err := decode(payload, &p, "role"); err != nil {
		return err
	}
	if _, err := requireAdmin(ctx.State, ctx.Call.From); err != nil {
		return err
	}
	if p.Account == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	has, err := ctx.State.HasRole(p.Role, p.Account)
	if err != nil || has == grant {
		return err
	}
	if err := ctx.State.SetRole(p.Role, p.Account, grant); err != nil {
		return err
	}
	typ := events.EventRoleRevoked
	if grant {
		typ = events.EventRoleGranted
	}
	ctx.Emit(typ, map[string]any{
		"role":    p.Role.String(),
		"account": p.Account,
		"sender":  ctx.Call.From,
	})
	return nil
}

func handleTransferAdmin(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AddressPayload
	if err := decode(payload, &p, "transfer_admin"); err != nil {
		return err
	}
	params, err := requireAdmin(ctx.State, ctx.Call.From)
	if err != nil {
		return err
	}
	if p.Address == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	previous := params.Administrator
	params.Administrator = p.Address
	if err := ctx.State.SetParams(params); err != nil {
		return err
	}
	ctx.Emit(events.EventAdministratorChanged, map[string]any{
		"previous":      previous,
		"administrator": p.Address,
	})
	return nil
}
