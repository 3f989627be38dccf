package market

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// resolveRoyalty picks the royalty terms cached on a listing: the asset's own
// royalty answer if it has one, else (collection owner, 0), else (zero, 0).
func resolveRoyalty(asset core.Asset, kind core.AssetKind, id, price *uint256.Int) (core.Address, *uint256.Int, error) {
	if kind.HasRoyalty() {
		if q, ok := asset.(core.RoyaltyQuerier); ok {
			receiver, amount, err := q.RoyaltyInfo(id, price)
			if err != nil {
				return core.ZeroAddress, nil, fmt.Errorf("royalty info: %w", err)
			}
			if amount == nil {
				amount = new(uint256.Int)
			}
			return receiver, amount, nil
		}
	}
	if o, ok := asset.(core.Ownable); ok {
		owner, set, err := o.Owner()
		if err != nil {
			return core.ZeroAddress, nil, fmt.Errorf("collection owner: %w", err)
		}
		if set {
			return owner, new(uint256.Int), nil
		}
	}
	return core.ZeroAddress, new(uint256.Int), nil
}

// detectKind classifies asset by the standards it advertises.
func detectKind(asset core.Asset) (core.AssetKind, error) {
	royalty := asset.SupportsStandard(core.StandardRoyalty)
	switch {
	case asset.SupportsStandard(core.StandardSingle):
		if royalty {
			return core.AssetSingleRoyalty, nil
		}
		return core.AssetSingle, nil
	case asset.SupportsStandard(core.StandardMulti):
		if royalty {
			return core.AssetMultiRoyalty, nil
		}
		return core.AssetMulti, nil
	}
	return 0, core.ErrAssetKindUnsupported
}

// lookupAsset resolves contract through the oracle.
func lookupAsset(oracle core.AssetOracle, contract core.Address) (core.Asset, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: no asset oracle", core.ErrAssetKindUnsupported)
	}
	asset, err := oracle.Asset(contract)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrAssetKindUnsupported, contract.Hex(), err)
	}
	return asset, nil
}
