package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func assetID(ref core.AssetRef) *uint256.Int {
	if ref.AssetID == nil {
		return new(uint256.Int)
	}
	return ref.AssetID
}

// purgeStale removes l and announces it. Reservations are not consulted: a
// stale listing can never be bought.
func purgeStale(ctx *vm.Context, l *core.Listing, st Status) error {
	if err := removeListing(ctx.State, l.AssetContract, l.AssetID); err != nil {
		return err
	}
	ctx.Emit(events.EventUnlistStale, map[string]any{
		"asset_contract":          l.AssetContract,
		"asset_id":                l.AssetID,
		"seller":                  l.Seller,
		"is_seller_owner":         st.IsSellerOwner,
		"is_token_still_approved": st.IsTokenStillApproved,
	})
	return nil
}

func (lg *logic) handleList(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListPayload
	if err := decode(payload, &p, "list"); err != nil {
		return err
	}
	params, err := requireNotPaused(ctx.State)
	if err != nil {
		return err
	}
	if p.Price == nil || p.Price.IsZero() {
		return core.ErrInvalidPrice
	}
	supported, err := ctx.State.IsPaymentUnit(p.PaymentUnit)
	if err != nil {
		return err
	}
	if !supported {
		return core.ErrInvalidPaymentUnit
	}

	id := assetID(p.AssetRef)
	seller := ctx.Call.From
	market := ctx.Env.Market
	asset, err := lookupAsset(ctx.Env.Assets, p.AssetContract)
	if err != nil {
		return err
	}
	kind, err := detectKind(asset)
	if err != nil {
		return err
	}
	owns, err := asset.Holds(id, seller)
	if err != nil {
		return fmt.Errorf("ownership query: %w", err)
	}
	if !owns {
		return core.ErrSenderNotOwner
	}
	approved, err := lg.approved(asset, kind, id, seller, market)
	if err != nil {
		return fmt.Errorf("approval query: %w", err)
	}
	if !approved {
		return core.ErrMarketplaceNotApproved
	}

	// A stale listing for the same asset gives way to the new one.
	if existing, err := getListing(ctx.State, p.AssetContract, id); err == nil {
		st, err := lg.statusOf(asset, market, existing)
		if err != nil {
			return err
		}
		if !st.Stale() {
			return core.ErrAlreadyListed
		}
		if err := purgeStale(ctx, existing, st); err != nil {
			return err
		}
	} else if !errors.Is(err, core.ErrNotListed) {
		return err
	}

	receiver, amount, err := resolveRoyalty(asset, kind, id, p.Price)
	if err != nil {
		return err
	}
	if err := checkSplit(p.Price, amount, params); err != nil {
		return err
	}

	l := &core.Listing{
		AssetContract:   p.AssetContract,
		AssetID:         id,
		Seller:          seller,
		Price:           p.Price,
		PaymentUnit:     p.PaymentUnit,
		Kind:            kind,
		RoyaltyReceiver: receiver,
		RoyaltyAmount:   amount,
	}
	if lg.stampListedAt {
		l.ListedAt = ctx.Now
	}
	ptr, err := insertListing(ctx.State, l)
	if err != nil {
		return err
	}

	ctx.SetResult(ptr)
	ctx.Emit(events.EventListed, map[string]any{
		"list_ptr":         ptr,
		"asset_contract":   l.AssetContract,
		"asset_id":         l.AssetID,
		"seller":           l.Seller,
		"price":            l.Price,
		"payment_unit":     l.PaymentUnit,
		"kind":             l.Kind.String(),
		"royalty_receiver": l.RoyaltyReceiver,
		"royalty_amount":   l.RoyaltyAmount,
	})
	return nil
}

func (lg *logic) handleUnlist(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AssetRef
	if err := decode(payload, &p, "unlist"); err != nil {
		return err
	}
	if _, err := requireNotPaused(ctx.State); err != nil {
		return err
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p))
	if err != nil {
		return err
	}
	if l.Seller != ctx.Call.From {
		return core.ErrOnlyOwnerCanUnlist
	}
	if l.ReservationActive(ctx.Now) {
		return core.ErrNftReserved
	}
	if err := removeListing(ctx.State, l.AssetContract, l.AssetID); err != nil {
		return err
	}
	ctx.Emit(events.EventUnlisted, map[string]any{
		"asset_contract": l.AssetContract,
		"asset_id":       l.AssetID,
		"seller":         l.Seller,
	})
	return nil
}

// handleUnlistStale is a no-op unless the listing exists and is stale, so it
// can be polled.
func (lg *logic) handleUnlistStale(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AssetRef
	if err := decode(payload, &p, "unlist_stale"); err != nil {
		return err
	}
	if _, err := requireNotPaused(ctx.State); err != nil {
		return err
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p))
	if errors.Is(err, core.ErrNotListed) {
		ctx.SetResult(false)
		return nil
	}
	if err != nil {
		return err
	}
	st, err := lg.status(ctx.Env.Assets, ctx.Env.Market, l)
	if err != nil {
		return err
	}
	if !st.Stale() {
		ctx.SetResult(false)
		return nil
	}
	ctx.SetResult(true)
	return purgeStale(ctx, l, st)
}

func (lg *logic) handleBuy(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AssetRef
	if err := decode(payload, &p, "buy"); err != nil {
		return err
	}
	params, err := requireNotPaused(ctx.State)
	if err != nil {
		return err
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p))
	if err != nil {
		return err
	}
	buyer := ctx.Call.From
	market := ctx.Env.Market

	asset, err := lookupAsset(ctx.Env.Assets, l.AssetContract)
	if err != nil {
		return err
	}
	st, err := lg.statusOf(asset, market, l)
	if err != nil {
		return err
	}
	if st.Stale() {
		if err := purgeStale(ctx, l, st); err != nil {
			return err
		}
		return vm.Persist(st.Err())
	}
	if l.ReservationActive(ctx.Now) && l.ReservedFor != buyer {
		return core.ErrReservedForAnotherAccount
	}

	split, err := ComputeSplit(l.Price, l.RoyaltyAmount, params.FeeNumerator, params.FeeDenominator)
	if err != nil {
		return err
	}
	royaltyTo := l.RoyaltyReceiver
	if royaltyTo == core.ZeroAddress {
		royaltyTo = l.Seller
	}
	if err := credit(ctx.State, l.PaymentUnit, l.Seller, split.SellerAmount); err != nil {
		return err
	}
	if err := credit(ctx.State, l.PaymentUnit, royaltyTo, split.RoyaltyAmount); err != nil {
		return err
	}
	if err := credit(ctx.State, l.PaymentUnit, params.ProtocolWallet, split.ProtocolFee); err != nil {
		return err
	}
	if err := removeListing(ctx.State, l.AssetContract, l.AssetID); err != nil {
		return err
	}

	// External effects go last; ledger writes above revert with the snapshot.
	if ctx.Env.Payments == nil {
		return fmt.Errorf("collect payment: no payment oracle")
	}
	if err := ctx.Env.Payments.TransferFrom(l.PaymentUnit, market, buyer, market, split.BuyerAmount); err != nil {
		return fmt.Errorf("collect payment: %w", err)
	}
	if err := asset.Transfer(market, l.Seller, buyer, l.AssetID); err != nil {
		if rerr := ctx.Env.Payments.Transfer(l.PaymentUnit, market, buyer, split.BuyerAmount); rerr != nil {
			return fmt.Errorf("transfer asset: %w (refund: %v)", err, rerr)
		}
		return fmt.Errorf("transfer asset: %w", err)
	}

	ctx.SetResult(split)
	ctx.Emit(events.EventBought, map[string]any{
		"asset_contract":   l.AssetContract,
		"asset_id":         l.AssetID,
		"buyer":            buyer,
		"seller":           l.Seller,
		"payment_unit":     l.PaymentUnit,
		"price":            split.Price,
		"protocol_fee":     split.ProtocolFee,
		"royalty_receiver": royaltyTo,
		"royalty_amount":   split.RoyaltyAmount,
		"seller_amount":    split.SellerAmount,
	})
	ctx.Emit(events.EventUnlisted, map[string]any{
		"asset_contract": l.AssetContract,
		"asset_id":       l.AssetID,
		"seller":         l.Seller,
	})
	return nil
}

// handleUpdateRoyalty lets the cached royalty receiver adjust its terms. For
// assets with a native royalty query the asset is asked again and the supplied
// amount is ignored.
func (lg *logic) handleUpdateRoyalty(ctx *vm.Context, payload json.RawMessage) error {
	var p core.UpdateRoyaltyPayload
	if err := decode(payload, &p, "update_royalty"); err != nil {
		return err
	}
	params, err := requireNotPaused(ctx.State)
	if err != nil {
		return err
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p.AssetRef))
	if err != nil {
		return err
	}

	var (
		receiver = l.RoyaltyReceiver
		amount   *uint256.Int
	)
	if l.Kind.HasRoyalty() {
		if ctx.Call.From != l.RoyaltyReceiver {
			return core.ErrOnlyRoyaltyReceiver
		}
		asset, err := lookupAsset(ctx.Env.Assets, l.AssetContract)
		if err != nil {
			return err
		}
		receiver, amount, err = resolveRoyalty(asset, l.Kind, l.AssetID, l.Price)
		if err != nil {
			return err
		}
	} else {
		if l.RoyaltyReceiver == core.ZeroAddress {
			return core.ErrTokenHasNoOwner
		}
		if ctx.Call.From != l.RoyaltyReceiver {
			return core.ErrOnlyRoyaltyReceiver
		}
		amount = p.Amount
		if amount == nil {
			amount = new(uint256.Int)
		}
	}
	return setRoyalty(ctx, params, l, receiver, amount)
}

// handleRefreshRoyalty re-queries a royalty-capable asset. Anyone may call it.
func (lg *logic) handleRefreshRoyalty(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AssetRef
	if err := decode(payload, &p, "refresh_royalty"); err != nil {
		return err
	}
	params, err := requireNotPaused(ctx.State)
	if err != nil {
		return err
	}
	l, err := getListing(ctx.State, p.AssetContract, assetID(p))
	if err != nil {
		return err
	}
	if !l.Kind.HasRoyalty() {
		return fmt.Errorf("%w: %s has no royalty query", core.ErrAssetKindUnsupported, l.AssetContract.Hex())
	}
	asset, err := lookupAsset(ctx.Env.Assets, l.AssetContract)
	if err != nil {
		return err
	}
	receiver, amount, err := resolveRoyalty(asset, l.Kind, l.AssetID, l.Price)
	if err != nil {
		return err
	}
	return setRoyalty(ctx, params, l, receiver, amount)
}

func setRoyalty(ctx *vm.Context, params *core.Params, l *core.Listing, receiver core.Address, amount *uint256.Int) error {
	if err := checkSplit(l.Price, amount, params); err != nil {
		return err
	}
	l.RoyaltyReceiver = receiver
	l.RoyaltyAmount = amount
	if err := ctx.State.SetListingAt(l.ListPtr, l); err != nil {
		return err
	}
	ctx.Emit(events.EventRoyaltiesSet, map[string]any{
		"asset_contract":   l.AssetContract,
		"asset_id":         l.AssetID,
		"royalty_receiver": receiver,
		"royalty_amount":   amount,
	})
	return nil
}

func (lg *logic) handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WithdrawPayload
	if err := decode(payload, &p, "withdraw"); err != nil {
		return err
	}
	if _, err := requireNotPaused(ctx.State); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return core.ErrAmountMustBePositive
	}
	supported, err := ctx.State.IsPaymentUnit(p.PaymentUnit)
	if err != nil {
		return err
	}
	if !supported {
		return core.ErrPaymentTokenNotSupported
	}
	account := ctx.Call.From
	if err := debit(ctx.State, p.PaymentUnit, account, p.Amount); err != nil {
		return err
	}
	if ctx.Env.Payments == nil {
		return fmt.Errorf("withdraw: no payment oracle")
	}
	if err := ctx.Env.Payments.Transfer(p.PaymentUnit, ctx.Env.Market, account, p.Amount); err != nil {
		return fmt.Errorf("withdraw transfer: %w", err)
	}
	ctx.Emit(events.EventFundsWithdrawn, map[string]any{
		"payment_unit": p.PaymentUnit,
		"account":      account,
		"amount":       p.Amount,
	})
	return nil
}
