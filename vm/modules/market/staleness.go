package market

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// Status is the live validity of a listing.
type Status struct {
	IsSellerOwner        bool `json:"is_seller_owner"`
	IsTokenStillApproved bool `json:"is_token_still_approved"`
}

// Stale reports whether the listing can no longer be bought.
func (s Status) Stale() bool { return !s.IsSellerOwner || !s.IsTokenStillApproved }

// Err returns the purchase error matching a stale status, or nil.
func (s Status) Err() error {
	switch {
	case !s.IsSellerOwner:
		return core.ErrNftNotOwnedAnymore
	case !s.IsTokenStillApproved:
		return core.ErrNftNotApprovedAnymore
	}
	return nil
}

// approved reports whether market may move id on behalf of owner.
func (lg *logic) approved(asset core.Asset, kind core.AssetKind, id *uint256.Int, owner, market core.Address) (bool, error) {
	ok, err := asset.IsApprovedForAll(owner, market)
	if err != nil || ok {
		return ok, err
	}
	if !lg.tokenApproval || kind.IsMulti() {
		return false, nil
	}
	ta, isApprover := asset.(core.TokenApprover)
	if !isApprover {
		return false, nil
	}
	spender, err := ta.GetApproved(id)
	if err != nil {
		return false, err
	}
	return spender == market, nil
}

// status queries the asset for the listing's seller ownership and approval.
func (lg *logic) status(assets core.AssetOracle, market core.Address, l *core.Listing) (Status, error) {
	asset, err := lookupAsset(assets, l.AssetContract)
	if err != nil {
		return Status{}, err
	}
	return lg.statusOf(asset, market, l)
}

func (lg *logic) statusOf(asset core.Asset, market core.Address, l *core.Listing) (Status, error) {
	var st Status
	owns, err := asset.Holds(l.AssetID, l.Seller)
	if err != nil {
		return st, fmt.Errorf("ownership query: %w", err)
	}
	st.IsSellerOwner = owns
	ok, err := lg.approved(asset, l.Kind, l.AssetID, l.Seller, market)
	if err != nil {
		return st, fmt.Errorf("approval query: %w", err)
	}
	st.IsTokenStillApproved = ok
	return st, nil
}
