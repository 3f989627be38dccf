package market

import (
	"encoding/json"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

// ReservedState is the reservation sub-state of a listing. An expired
// reservation keeps its stored fields until overwritten or the listing goes.
type ReservedState struct {
	ReservedFor   core.Address `json:"reserved_for"`
	ReservedUntil uint64       `json:"reserved_until"`
	Active        bool         `json:"active"`
}

func reservedState(l *core.Listing, now uint64) ReservedState {
	return ReservedState{
		ReservedFor:   l.ReservedFor,
		ReservedUntil: l.ReservedUntil,
		Active:        l.ReservationActive(now),
	}
}

// handleReserve holds a listing for a reservee for 1..MaxReservePeriod
// seconds. Any earlier reservation, expired or not, is overwritten.
func (lg *logic) handleReserve(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ReservePayload
	if err := decode(payload, &p, "reserve"); err != nil {
		return err
	}
	if _, err := requireNotPaused(ctx.State); err != nil {
		return err
	}
	if err := requireRole(ctx.State, core.RoleReserver, ctx.Call.From, core.ErrMissingReserverRole); err != nil {
		return err
	}
	if p.Period == 0 || p.Period > core.MaxReservePeriod {
		return core.ErrInvalidPeriod
	}
	if p.Reservee == core.ZeroAddress {
		return core.ErrZeroAddress
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p.AssetRef))
	if err != nil {
		return err
	}

	l.ReservedFor = p.Reservee
	l.ReservedUntil = ctx.Now + p.Period
	if err := ctx.State.SetListingAt(l.ListPtr, l); err != nil {
		return err
	}
	ctx.SetResult(reservedState(l, ctx.Now))
	ctx.Emit(events.EventReserved, map[string]any{
		"asset_contract": l.AssetContract,
		"asset_id":       l.AssetID,
		"reserved_for":   l.ReservedFor,
		"reserved_until": l.ReservedUntil,
		"period":         p.Period,
	})
	return nil
}
