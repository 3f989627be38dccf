package market

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/vm"
)

// Service is the typed surface over an Executor. Mutators build calls and
// submit them; queries read committed state.
type Service struct {
	exec *vm.Executor
}

// NewService wraps exec.
func NewService(exec *vm.Executor) *Service {
	return &Service{exec: exec}
}

// Submit executes a pre-built call.
func (s *Service) Submit(call *core.Call) (*vm.Receipt, error) {
	return s.exec.Execute(call)
}

func (s *Service) call(typ core.CallType, from core.Address, payload any) (*vm.Receipt, error) {
	c, err := core.NewCall(typ, from, payload)
	if err != nil {
		return nil, err
	}
	return s.exec.Execute(c)
}

func ref(contract core.Address, id *uint256.Int) core.AssetRef {
	return core.AssetRef{AssetContract: contract, AssetID: id}
}

// ---- Mutators ----

// List offers (contract, id) for sale and returns its pointer.
func (s *Service) List(from, contract core.Address, id, price *uint256.Int, unit core.Address) (uint64, error) {
	rcpt, err := s.call(core.CallList, from, core.ListPayload{AssetRef: ref(contract, id), Price: price, PaymentUnit: unit})
	if err != nil {
		return 0, err
	}
	ptr, _ := rcpt.Result.(uint64)
	return ptr, nil
}

func (s *Service) Unlist(from, contract core.Address, id *uint256.Int) error {
	_, err := s.call(core.CallUnlist, from, ref(contract, id))
	return err
}

// UnlistStale reports whether a stale listing was removed.
func (s *Service) UnlistStale(from, contract core.Address, id *uint256.Int) (bool, error) {
	rcpt, err := s.call(core.CallUnlistStale, from, ref(contract, id))
	if err != nil {
		return false, err
	}
	removed, _ := rcpt.Result.(bool)
	return removed, nil
}

// Buy purchases (contract, id) and returns the price split.
func (s *Service) Buy(from, contract core.Address, id *uint256.Int) (*Split, error) {
	rcpt, err := s.call(core.CallBuy, from, ref(contract, id))
	if err != nil {
		return nil, err
	}
	split, _ := rcpt.Result.(*Split)
	return split, nil
}

func (s *Service) Reserve(from, contract core.Address, id *uint256.Int, period uint64, reservee core.Address) error {
	_, err := s.call(core.CallReserve, from, core.ReservePayload{AssetRef: ref(contract, id), Period: period, Reservee: reservee})
	return err
}

func (s *Service) UpdateRoyalty(from, contract core.Address, id, amount *uint256.Int) error {
	_, err := s.call(core.CallUpdateRoyalty, from, core.UpdateRoyaltyPayload{AssetRef: ref(contract, id), Amount: amount})
	return err
}

func (s *Service) RefreshRoyalty(from, contract core.Address, id *uint256.Int) error {
	_, err := s.call(core.CallRefreshRoyalty, from, ref(contract, id))
	return err
}

func (s *Service) Withdraw(from, unit core.Address, amount *uint256.Int) error {
	_, err := s.call(core.CallWithdraw, from, core.WithdrawPayload{PaymentUnit: unit, Amount: amount})
	return err
}

func (s *Service) AddPaymentUnit(from, unit core.Address) error {
	_, err := s.call(core.CallAddPaymentUnit, from, core.AddressPayload{Address: unit})
	return err
}

func (s *Service) ChangeProtocolWallet(from, wallet core.Address) error {
	_, err := s.call(core.CallChangeProtocolWallet, from, core.AddressPayload{Address: wallet})
	return err
}

func (s *Service) ChangeProtocolFee(from core.Address, num, den *uint256.Int) error {
	_, err := s.call(core.CallChangeProtocolFee, from, core.ProtocolFeePayload{Numerator: num, Denominator: den})
	return err
}

func (s *Service) Pause(from core.Address) error {
	_, err := s.call(core.CallPause, from, nil)
	return err
}

func (s *Service) Unpause(from core.Address) error {
	_, err := s.call(core.CallUnpause, from, nil)
	return err
}

func (s *Service) GrantRole(from core.Address, role core.Role, account core.Address) error {
	_, err := s.call(core.CallGrantRole, from, core.RolePayload{Role: role, Account: account})
	return err
}

func (s *Service) RevokeRole(from core.Address, role core.Role, account core.Address) error {
	_, err := s.call(core.CallRevokeRole, from, core.RolePayload{Role: role, Account: account})
	return err
}

func (s *Service) TransferAdmin(from, admin core.Address) error {
	_, err := s.call(core.CallTransferAdmin, from, core.AddressPayload{Address: admin})
	return err
}

func (s *Service) Upgrade(from core.Address, implementation string) error {
	_, err := s.call(core.CallUpgrade, from, core.UpgradePayload{Implementation: implementation})
	return err
}

// ---- Queries ----

func (s *Service) GetListing(contract core.Address, id *uint256.Int) (*core.Listing, error) {
	var out *core.Listing
	err := s.exec.View(func(state core.State) error {
		l, err := getListing(state, contract, id)
		out = l
		return err
	})
	return out, err
}

func (s *Service) GetListingByPointer(ptr uint64) (*core.Listing, error) {
	var out *core.Listing
	err := s.exec.View(func(state core.State) error {
		n, err := state.ListingCount()
		if err != nil {
			return err
		}
		if ptr >= n {
			return core.ErrNotListed
		}
		out, err = state.ListingAt(ptr)
		return err
	})
	return out, err
}

func (s *Service) GetListingPointer(contract core.Address, id *uint256.Int) (uint64, error) {
	var ptr uint64
	err := s.exec.View(func(state core.State) error {
		p, ok, err := state.ListingPointer(contract, id)
		if err != nil {
			return err
		}
		if !ok {
			return core.ErrNotListed
		}
		ptr = p
		return nil
	})
	return ptr, err
}

func (s *Service) IsListed(contract core.Address, id *uint256.Int) (bool, error) {
	_, err := s.GetListingPointer(contract, id)
	if errors.Is(err, core.ErrNotListed) {
		return false, nil
	}
	return err == nil, err
}

// AllListings returns listings in slot order, which is insertion order
// permuted by swap-removals.
func (s *Service) AllListings() ([]*core.Listing, error) {
	var out []*core.Listing
	err := s.exec.View(func(state core.State) error {
		var err error
		out, err = allListings(state)
		return err
	})
	return out, err
}

func (s *Service) NumListings() (uint64, error) {
	var n uint64
	err := s.exec.View(func(state core.State) error {
		var err error
		n, err = state.ListingCount()
		return err
	})
	return n, err
}

// Royalties returns the royalty terms cached on a listing.
func (s *Service) Royalties(contract core.Address, id *uint256.Int) (core.Address, *uint256.Int, error) {
	l, err := s.GetListing(contract, id)
	if err != nil {
		return core.ZeroAddress, nil, err
	}
	return l.RoyaltyReceiver, l.RoyaltyAmount, nil
}

// Status asks the asset oracle whether the listing is still valid under the
// current implementation's approval policy.
func (s *Service) Status(contract core.Address, id *uint256.Int) (Status, error) {
	var st Status
	env := s.exec.Env()
	err := s.exec.View(func(state core.State) error {
		l, err := getListing(state, contract, id)
		if err != nil {
			return err
		}
		lg, err := currentLogic(state)
		if err != nil {
			return err
		}
		st, err = lg.status(env.Assets, env.Market, l)
		return err
	})
	return st, err
}

func (s *Service) ReservedState(contract core.Address, id *uint256.Int) (ReservedState, error) {
	l, err := s.GetListing(contract, id)
	if err != nil {
		return ReservedState{}, err
	}
	return reservedState(l, s.exec.Now()), nil
}

func (s *Service) Balance(unit, account core.Address) (*uint256.Int, error) {
	var bal *uint256.Int
	err := s.exec.View(func(state core.State) error {
		var err error
		bal, err = state.Balance(unit, account)
		return err
	})
	return bal, err
}

func (s *Service) IsPaymentUnit(unit core.Address) (bool, error) {
	var ok bool
	err := s.exec.View(func(state core.State) error {
		var err error
		ok, err = state.IsPaymentUnit(unit)
		return err
	})
	return ok, err
}

func (s *Service) PaymentUnits() ([]core.Address, error) {
	var units []core.Address
	err := s.exec.View(func(state core.State) error {
		var err error
		units, err = state.PaymentUnits()
		return err
	})
	return units, err
}

func (s *Service) HasRole(role core.Role, account core.Address) (bool, error) {
	var ok bool
	err := s.exec.View(func(state core.State) error {
		var err error
		ok, err = state.HasRole(role, account)
		return err
	})
	return ok, err
}

func (s *Service) RoleMembers(role core.Role) ([]core.Address, error) {
	var members []core.Address
	err := s.exec.View(func(state core.State) error {
		var err error
		members, err = state.RoleMembers(role)
		return err
	})
	return members, err
}

func (s *Service) Params() (*core.Params, error) {
	var p *core.Params
	err := s.exec.View(func(state core.State) error {
		var err error
		p, err = loadParams(state)
		return err
	})
	return p, err
}

// CurrentImplementation returns the logic pointer and persisted schema.
// StateRoot returns the hash of the whole committed store and the hash of
// its data prefixes alone. Both scan every key.
func (s *Service) StateRoot() (root, dataRoot string, err error) {
	err = s.exec.View(func(state core.State) error {
		root, dataRoot = state.ComputeRoot(), state.DataRoot()
		return nil
	})
	return root, dataRoot, err
}

func (s *Service) CurrentImplementation() (string, uint64, error) {
	var (
		name   string
		schema uint64
	)
	err := s.exec.View(func(state core.State) error {
		var err error
		if name, err = state.Implementation(); err != nil {
			return fmt.Errorf("read logic pointer: %w", err)
		}
		schema, err = state.SchemaVersion()
		return err
	})
	return name, schema, err
}
