package market

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// Listings live in a dense array of slots 0..n-1 plus an index from
// (contract, id) to slot. Removal moves the last slot into the hole, so a
// ListPtr is only meaningful within one call.

// getListing returns the listing for (contract, id) or ErrNotListed.
func getListing(state core.State, contract core.Address, id *uint256.Int) (*core.Listing, error) {
	ptr, ok, err := state.ListingPointer(contract, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotListed
	}
	l, err := state.ListingAt(ptr)
	if err != nil {
		return nil, fmt.Errorf("listing slot %d: %w", ptr, err)
	}
	return l, nil
}

// insertListing appends l and indexes it. It returns the assigned pointer.
func insertListing(state core.State, l *core.Listing) (uint64, error) {
	n, err := state.ListingCount()
	if err != nil {
		return 0, err
	}
	l.ListPtr = n
	if err := state.SetListingAt(n, l); err != nil {
		return 0, err
	}
	if err := state.SetListingPointer(l.AssetContract, l.AssetID, n); err != nil {
		return 0, err
	}
	return n, state.SetListingCount(n + 1)
}

// removeListing swap-removes the listing for (contract, id).
func removeListing(state core.State, contract core.Address, id *uint256.Int) error {
	ptr, ok, err := state.ListingPointer(contract, id)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotListed
	}
	n, err := state.ListingCount()
	if err != nil {
		return err
	}
	if n == 0 || ptr >= n {
		return fmt.Errorf("listing pointer %d out of range %d", ptr, n)
	}
	last := n - 1
	if ptr != last {
		moved, err := state.ListingAt(last)
		if err != nil {
			return fmt.Errorf("listing slot %d: %w", last, err)
		}
		moved.ListPtr = ptr
		if err := state.SetListingAt(ptr, moved); err != nil {
			return err
		}
		if err := state.SetListingPointer(moved.AssetContract, moved.AssetID, ptr); err != nil {
			return err
		}
	}
	if err := state.DeleteListingAt(last); err != nil {
		return err
	}
	if err := state.DeleteListingPointer(contract, id); err != nil {
		return err
	}
	return state.SetListingCount(last)
}

// allListings returns every listing in slot order.
func allListings(state core.State) ([]*core.Listing, error) {
	n, err := state.ListingCount()
	if err != nil {
		return nil, err
	}
	out := make([]*core.Listing, 0, n)
	for i := uint64(0); i < n; i++ {
		l, err := state.ListingAt(i)
		if err != nil {
			return nil, fmt.Errorf("listing slot %d: %w", i, err)
		}
		out = append(out, l)
	}
	return out, nil
}
