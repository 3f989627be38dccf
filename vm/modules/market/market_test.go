package market_test

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/oracle"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/market"
)

var (
	admin    = core.HexToAddress("0x00000000000000000000000000000000000000a1")
	wallet   = core.HexToAddress("0x00000000000000000000000000000000000000a2")
	vault    = core.HexToAddress("0x00000000000000000000000000000000000000a3")
	seller   = core.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer    = core.HexToAddress("0x00000000000000000000000000000000000000b2")
	other    = core.HexToAddress("0x00000000000000000000000000000000000000b3")
	reserver = core.HexToAddress("0x00000000000000000000000000000000000000b4")
	creator  = core.HexToAddress("0x00000000000000000000000000000000000000b5")
	artist   = core.HexToAddress("0x00000000000000000000000000000000000000b6")

	nft        = core.HexToAddress("0x00000000000000000000000000000000000000c1")
	royaltyNFT = core.HexToAddress("0x00000000000000000000000000000000000000c2")
	multi      = core.HexToAddress("0x00000000000000000000000000000000000000c3")
	bare       = core.HexToAddress("0x00000000000000000000000000000000000000c4")

	unit      = core.HexToAddress("0x00000000000000000000000000000000000000d1")
	otherUnit = core.HexToAddress("0x00000000000000000000000000000000000000d2")
)

const startTime = 1_700_000_000

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	svc    *market.Service
	assets *oracle.AssetLedger
	pay    *oracle.PaymentLedger
	now    time.Time
	events []events.Event
}

func setup(t *testing.T, impl string) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		state:  testutil.NewStateDB(),
		assets: oracle.NewAssetLedger(),
		pay:    oracle.NewPaymentLedger(),
		now:    time.Unix(startTime, 0),
	}

	require.NoError(t, f.state.SetParams(&core.Params{
		Administrator:  admin,
		ProtocolWallet: wallet,
		FeeNumerator:   u(25),
		FeeDenominator: u(1000),
	}))
	require.NoError(t, f.state.AddPaymentUnit(unit))
	require.NoError(t, f.state.SetRole(core.RoleReserver, reserver, true))
	require.NoError(t, vm.Install(f.state, impl))
	require.NoError(t, f.state.Commit())

	require.NoError(t, f.assets.Deploy(nft, oracle.CollectionSpec{Owner: creator}))
	require.NoError(t, f.assets.Deploy(royaltyNFT, oracle.CollectionSpec{Royalty: true, RoyaltyReceiver: artist, RoyaltyBps: 1000}))
	require.NoError(t, f.assets.Deploy(multi, oracle.CollectionSpec{Multi: true}))
	require.NoError(t, f.assets.Deploy(bare, oracle.CollectionSpec{}))
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, f.assets.Mint(nft, u(id), seller, 1))
		require.NoError(t, f.assets.Mint(royaltyNFT, u(id), seller, 1))
		require.NoError(t, f.assets.Mint(bare, u(id), seller, 1))
	}
	require.NoError(t, f.assets.Mint(multi, u(1), seller, 3))
	for _, c := range []core.Address{nft, royaltyNFT, multi, bare} {
		require.NoError(t, f.assets.SetApprovalForAll(c, seller, vault, true))
	}

	require.NoError(t, f.pay.Mint(unit, buyer, u(1_000_000)))
	require.NoError(t, f.pay.Approve(unit, buyer, vault, u(1_000_000)))
	require.NoError(t, f.pay.Mint(unit, other, u(1_000_000)))
	require.NoError(t, f.pay.Approve(unit, other, vault, u(1_000_000)))

	emitter := events.NewEmitter()
	emitter.SubscribeAll(func(ev events.Event) { f.events = append(f.events, ev) })
	f.exec = vm.NewExecutor(f.state, emitter, vm.Env{Assets: f.assets, Payments: f.pay, Market: vault})
	f.exec.SetNowFunc(func() time.Time { return f.now })
	f.svc = market.NewService(f.exec)
	return f
}

func (f *fixture) list(contract core.Address, id, price uint64) uint64 {
	f.t.Helper()
	ptr, err := f.svc.List(seller, contract, u(id), u(price), unit)
	require.NoError(f.t, err)
	return ptr
}

func (f *fixture) balance(account core.Address) uint64 {
	f.t.Helper()
	bal, err := f.svc.Balance(unit, account)
	require.NoError(f.t, err)
	return bal.Uint64()
}

func (f *fixture) lastEvent(typ events.EventType) events.Event {
	f.t.Helper()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Type == typ {
			return f.events[i]
		}
	}
	f.t.Fatalf("no %s event", typ)
	return events.Event{}
}

func TestComputeSplit(t *testing.T) {
	s, err := market.ComputeSplit(u(1000), u(0), u(25), u(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(25), s.ProtocolFee.Uint64())
	require.Equal(t, uint64(975), s.SellerAmount.Uint64())
	require.Equal(t, uint64(1000), s.BuyerAmount.Uint64())

	s, err = market.ComputeSplit(u(1000), u(100), u(25), u(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(25), s.ProtocolFee.Uint64())
	require.Equal(t, uint64(875), s.SellerAmount.Uint64())

	// Truncation toward zero.
	s, err = market.ComputeSplit(u(999), u(0), u(25), u(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(24), s.ProtocolFee.Uint64())

	_, err = market.ComputeSplit(u(1000), u(0), u(1), u(0))
	require.ErrorIs(t, err, core.ErrZeroDenominator)

	_, err = market.ComputeSplit(u(1000), u(976), u(25), u(1000))
	require.ErrorIs(t, err, core.ErrFeeExceedsPrice)

	// The intermediate product does not overflow 256 bits.
	top := new(uint256.Int).SetAllOne()
	num := new(uint256.Int).Sub(top, u(1))
	s, err = market.ComputeSplit(top, u(0), num, top)
	require.NoError(t, err)
	require.Equal(t, num, s.ProtocolFee)
	require.Equal(t, uint64(1), s.SellerAmount.Uint64())
}

func TestSplitIdentity(t *testing.T) {
	for _, tc := range []struct{ price, royalty, num, den uint64 }{
		{1000, 0, 25, 1000},
		{1, 0, 1, 3},
		{12345, 678, 2500000000000, 100000000000000},
		{7, 7, 0, 1},
		{1 << 40, 1 << 20, 1, 1 << 10},
	} {
		s, err := market.ComputeSplit(u(tc.price), u(tc.royalty), u(tc.num), u(tc.den))
		require.NoError(t, err)
		sum := new(uint256.Int).Add(s.SellerAmount, s.ProtocolFee)
		sum.Add(sum, s.RoyaltyAmount)
		require.Equal(t, tc.price, sum.Uint64())
	}
}

func TestListAndGet(t *testing.T) {
	f := setup(t, market.V1)

	ptr := f.list(nft, 1, 1000)
	require.Equal(t, uint64(0), ptr)

	l, err := f.svc.GetListing(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, nft, l.AssetContract)
	require.Equal(t, uint64(1), l.AssetID.Uint64())
	require.Equal(t, seller, l.Seller)
	require.Equal(t, uint64(1000), l.Price.Uint64())
	require.Equal(t, unit, l.PaymentUnit)
	require.Equal(t, core.AssetSingle, l.Kind)
	require.Zero(t, l.ReservedUntil)
	require.Equal(t, core.ZeroAddress, l.ReservedFor)
	require.Equal(t, creator, l.RoyaltyReceiver)
	require.True(t, l.RoyaltyAmount.IsZero())
	require.Zero(t, l.ListedAt)

	ev := f.lastEvent(events.EventListed)
	require.Equal(t, creator, ev.Data["royalty_receiver"])
	require.Equal(t, uint64(0), ev.Data["list_ptr"])

	byPtr, err := f.svc.GetListingByPointer(0)
	require.NoError(t, err)
	require.Equal(t, l, byPtr)
	_, err = f.svc.GetListingByPointer(1)
	require.ErrorIs(t, err, core.ErrNotListed)

	listed, err := f.svc.IsListed(nft, u(1))
	require.NoError(t, err)
	require.True(t, listed)
	listed, err = f.svc.IsListed(nft, u(2))
	require.NoError(t, err)
	require.False(t, listed)

	// Royalty-capable and multi kinds.
	f.list(royaltyNFT, 1, 1000)
	l, err = f.svc.GetListing(royaltyNFT, u(1))
	require.NoError(t, err)
	require.Equal(t, core.AssetSingleRoyalty, l.Kind)
	require.Equal(t, artist, l.RoyaltyReceiver)
	require.Equal(t, uint64(100), l.RoyaltyAmount.Uint64())

	f.list(multi, 1, 500)
	l, err = f.svc.GetListing(multi, u(1))
	require.NoError(t, err)
	require.Equal(t, core.AssetMulti, l.Kind)
	require.Equal(t, core.ZeroAddress, l.RoyaltyReceiver)

	n, err := f.svc.NumListings()
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestListValidation(t *testing.T) {
	f := setup(t, market.V1)

	_, err := f.svc.List(seller, nft, u(1), u(0), unit)
	require.ErrorIs(t, err, core.ErrInvalidPrice)

	_, err = f.svc.List(seller, nft, u(1), u(10), otherUnit)
	require.ErrorIs(t, err, core.ErrInvalidPaymentUnit)

	_, err = f.svc.List(seller, otherUnit, u(1), u(10), unit)
	require.ErrorIs(t, err, core.ErrAssetKindUnsupported)

	_, err = f.svc.List(other, nft, u(1), u(10), unit)
	require.ErrorIs(t, err, core.ErrSenderNotOwner)

	require.NoError(t, f.assets.SetApprovalForAll(nft, seller, vault, false))
	_, err = f.svc.List(seller, nft, u(1), u(10), unit)
	require.ErrorIs(t, err, core.ErrMarketplaceNotApproved)

	// A 10% royalty plus a 95% fee cannot fit in the price.
	require.NoError(t, f.svc.ChangeProtocolFee(admin, u(95), u(100)))
	_, err = f.svc.List(seller, royaltyNFT, u(1), u(1000), unit)
	require.ErrorIs(t, err, core.ErrFeeExceedsPrice)

	require.NoError(t, f.svc.Pause(admin))
	_, err = f.svc.List(seller, bare, u(1), u(10), unit)
	require.ErrorIs(t, err, core.ErrContractPaused)

	n, err := f.svc.NumListings()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDuplicateListing(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)

	_, err := f.svc.List(seller, nft, u(1), u(2000), unit)
	require.ErrorIs(t, err, core.ErrAlreadyListed)

	// Once the old listing is stale the new owner may list.
	require.NoError(t, f.assets.TransferFrom(nft, seller, seller, other, u(1)))
	require.NoError(t, f.assets.SetApprovalForAll(nft, other, vault, true))
	_, err = f.svc.List(other, nft, u(1), u(2000), unit)
	require.NoError(t, err)

	l, err := f.svc.GetListing(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, other, l.Seller)
	require.Equal(t, uint64(2000), l.Price.Uint64())
	require.Equal(t, events.EventUnlistStale, f.events[len(f.events)-2].Type)
}

func TestSwapRemove(t *testing.T) {
	f := setup(t, market.V1)
	for id := uint64(1); id <= 4; id++ {
		require.Equal(t, id-1, f.list(nft, id, 100*id))
	}

	require.NoError(t, f.svc.Unlist(seller, nft, u(2)))

	all, err := f.svc.AllListings()
	require.NoError(t, err)
	require.Len(t, all, 3)
	ids := []uint64{all[0].AssetID.Uint64(), all[1].AssetID.Uint64(), all[2].AssetID.Uint64()}
	require.Equal(t, []uint64{1, 4, 3}, ids)
	for i, l := range all {
		require.Equal(t, uint64(i), l.ListPtr)
	}

	ptr, err := f.svc.GetListingPointer(nft, u(4))
	require.NoError(t, err)
	require.Equal(t, uint64(1), ptr)
	_, err = f.svc.GetListingPointer(nft, u(2))
	require.ErrorIs(t, err, core.ErrNotListed)

	// Removing the last slot moves nothing.
	require.NoError(t, f.svc.Unlist(seller, nft, u(3)))
	all, err = f.svc.AllListings()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(4), all[1].AssetID.Uint64())
}

func TestUnlistErrors(t *testing.T) {
	f := setup(t, market.V1)

	require.ErrorIs(t, f.svc.Unlist(seller, nft, u(1)), core.ErrNotListed)
	f.list(nft, 1, 1000)
	require.ErrorIs(t, f.svc.Unlist(other, nft, u(1)), core.ErrOnlyOwnerCanUnlist)
	require.NoError(t, f.svc.Unlist(seller, nft, u(1)))
	require.Equal(t, events.EventUnlisted, f.events[len(f.events)-1].Type)
}

func TestBuySplitsProceeds(t *testing.T) {
	f := setup(t, market.V1)
	f.list(bare, 1, 1000)

	split, err := f.svc.Buy(buyer, bare, u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(25), split.ProtocolFee.Uint64())
	require.Equal(t, uint64(975), split.SellerAmount.Uint64())

	require.Equal(t, uint64(975), f.balance(seller))
	require.Equal(t, uint64(25), f.balance(wallet))

	owner, err := f.assets.OwnerOf(bare, u(1))
	require.NoError(t, err)
	require.Equal(t, buyer, owner)
	vaultBal, err := f.pay.BalanceOf(unit, vault)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), vaultBal.Uint64())

	_, err = f.svc.GetListing(bare, u(1))
	require.ErrorIs(t, err, core.ErrNotListed)
	require.Equal(t, events.EventBought, f.events[len(f.events)-2].Type)
	require.Equal(t, events.EventUnlisted, f.events[len(f.events)-1].Type)
}

func TestBuyWithRoyalty(t *testing.T) {
	f := setup(t, market.V1)
	f.list(royaltyNFT, 1, 1000)

	split, err := f.svc.Buy(buyer, royaltyNFT, u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(100), split.RoyaltyAmount.Uint64())
	require.Equal(t, uint64(875), f.balance(seller))
	require.Equal(t, uint64(100), f.balance(artist))
	require.Equal(t, uint64(25), f.balance(wallet))
}

func TestBuyMultiMovesOneUnit(t *testing.T) {
	f := setup(t, market.V1)
	f.list(multi, 1, 300)

	_, err := f.svc.Buy(buyer, multi, u(1))
	require.NoError(t, err)
	n, err := f.assets.BalanceOf(multi, u(1), seller)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
	n, err = f.assets.BalanceOf(multi, u(1), buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestBuyFailureLeavesNoTrace(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	root := f.state.ComputeRoot()

	// other has no allowance left for the vault.
	require.NoError(t, f.pay.Approve(unit, other, vault, u(0)))
	_, err := f.svc.Buy(other, nft, u(1))
	require.ErrorIs(t, err, oracle.ErrInsufficientAllowance)
	require.Equal(t, root, f.state.ComputeRoot())

	listed, err := f.svc.IsListed(nft, u(1))
	require.NoError(t, err)
	require.True(t, listed)
	require.Zero(t, f.balance(seller))

	_, err = f.svc.Buy(buyer, nft, u(2))
	require.ErrorIs(t, err, core.ErrNotListed)
}

func TestBuyStaleListingIsPurged(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	f.list(nft, 2, 1000)

	require.NoError(t, f.assets.TransferFrom(nft, seller, seller, other, u(1)))
	_, err := f.svc.Buy(buyer, nft, u(1))
	require.ErrorIs(t, err, core.ErrNftNotOwnedAnymore)

	_, err = f.svc.GetListing(nft, u(1))
	require.ErrorIs(t, err, core.ErrNotListed)
	require.Equal(t, events.EventUnlistStale, f.events[len(f.events)-1].Type)

	removed, err := f.svc.UnlistStale(other, nft, u(1))
	require.NoError(t, err)
	require.False(t, removed)

	require.NoError(t, f.assets.SetApprovalForAll(nft, seller, vault, false))
	_, err = f.svc.Buy(buyer, nft, u(2))
	require.ErrorIs(t, err, core.ErrNftNotApprovedAnymore)
	n, err := f.svc.NumListings()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUnlistStale(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)

	removed, err := f.svc.UnlistStale(other, nft, u(1))
	require.NoError(t, err)
	require.False(t, removed)
	st, err := f.svc.Status(nft, u(1))
	require.NoError(t, err)
	require.True(t, st.IsSellerOwner)
	require.True(t, st.IsTokenStillApproved)

	require.NoError(t, f.assets.TransferFrom(nft, seller, seller, other, u(1)))
	st, err = f.svc.Status(nft, u(1))
	require.NoError(t, err)
	require.False(t, st.IsSellerOwner)

	removed, err = f.svc.UnlistStale(other, nft, u(1))
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = f.svc.UnlistStale(other, nft, u(1))
	require.NoError(t, err)
	require.False(t, removed)
}

func TestReservation(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	f.list(nft, 2, 1000)

	require.ErrorIs(t, f.svc.Reserve(other, nft, u(1), 60, buyer), core.ErrMissingReserverRole)
	require.ErrorIs(t, f.svc.Reserve(reserver, nft, u(1), core.MaxReservePeriod+1, buyer), core.ErrInvalidPeriod)
	require.ErrorIs(t, f.svc.Reserve(reserver, nft, u(1), 0, buyer), core.ErrInvalidPeriod)
	require.ErrorIs(t, f.svc.Reserve(reserver, nft, u(1), 60, core.ZeroAddress), core.ErrZeroAddress)
	require.ErrorIs(t, f.svc.Reserve(reserver, nft, u(3), 60, buyer), core.ErrNotListed)

	const period = 3600
	require.NoError(t, f.svc.Reserve(reserver, nft, u(1), period, buyer))
	rs, err := f.svc.ReservedState(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, buyer, rs.ReservedFor)
	require.Equal(t, uint64(startTime+period), rs.ReservedUntil)
	require.True(t, rs.Active)
	ev := f.lastEvent(events.EventReserved)
	require.Equal(t, uint64(period), ev.Data["period"])

	_, err = f.svc.Buy(other, nft, u(1))
	require.ErrorIs(t, err, core.ErrReservedForAnotherAccount)
	require.ErrorIs(t, f.svc.Unlist(seller, nft, u(1)), core.ErrNftReserved)

	// The reservee may buy before expiry.
	require.NoError(t, f.svc.Reserve(reserver, nft, u(2), period, buyer))
	_, err = f.svc.Buy(buyer, nft, u(2))
	require.NoError(t, err)

	// Anyone may buy once the reservation lapses.
	f.now = time.Unix(startTime+period, 0)
	rs, err = f.svc.ReservedState(nft, u(1))
	require.NoError(t, err)
	require.False(t, rs.Active)
	require.Equal(t, buyer, rs.ReservedFor)
	_, err = f.svc.Buy(other, nft, u(1))
	require.NoError(t, err)
}

func TestReserveOverwrites(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)

	require.NoError(t, f.svc.Reserve(reserver, nft, u(1), 3600, buyer))
	f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.svc.Reserve(reserver, nft, u(1), 60, other))

	rs, err := f.svc.ReservedState(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, other, rs.ReservedFor)
	require.Equal(t, uint64(startTime+10+60), rs.ReservedUntil)
}

func TestUpdateRoyalty(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	f.list(bare, 1, 1000)
	f.list(royaltyNFT, 1, 1000)

	// Ownership-derived receiver may set the amount.
	require.ErrorIs(t, f.svc.UpdateRoyalty(other, nft, u(1), u(50)), core.ErrOnlyRoyaltyReceiver)
	require.ErrorIs(t, f.svc.UpdateRoyalty(creator, nft, u(1), u(990)), core.ErrFeeExceedsPrice)
	require.NoError(t, f.svc.UpdateRoyalty(creator, nft, u(1), u(50)))
	receiver, amount, err := f.svc.Royalties(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, creator, receiver)
	require.Equal(t, uint64(50), amount.Uint64())
	l, err := f.svc.GetListing(nft, u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), l.Price.Uint64())
	require.Equal(t, events.EventRoyaltiesSet, f.events[len(f.events)-1].Type)

	// No owner, no receiver.
	require.ErrorIs(t, f.svc.UpdateRoyalty(seller, bare, u(1), u(50)), core.ErrTokenHasNoOwner)

	// A royalty-capable asset keeps its own terms.
	require.ErrorIs(t, f.svc.UpdateRoyalty(other, royaltyNFT, u(1), u(1)), core.ErrOnlyRoyaltyReceiver)
	require.NoError(t, f.svc.UpdateRoyalty(artist, royaltyNFT, u(1), u(1)))
	_, amount, err = f.svc.Royalties(royaltyNFT, u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(100), amount.Uint64())

	require.NoError(t, f.assets.SetRoyalty(royaltyNFT, creator, 500))
	require.NoError(t, f.svc.RefreshRoyalty(other, royaltyNFT, u(1)))
	receiver, amount, err = f.svc.Royalties(royaltyNFT, u(1))
	require.NoError(t, err)
	require.Equal(t, creator, receiver)
	require.Equal(t, uint64(50), amount.Uint64())

	require.ErrorIs(t, f.svc.RefreshRoyalty(other, nft, u(1)), core.ErrAssetKindUnsupported)

	// The updated royalty is honoured at sale.
	_, err = f.svc.Buy(buyer, nft, u(1))
	require.NoError(t, err)
	require.Equal(t, uint64(50), f.balance(creator))
}

func TestWithdraw(t *testing.T) {
	f := setup(t, market.V1)
	f.list(bare, 1, 1000)
	_, err := f.svc.Buy(buyer, bare, u(1))
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Withdraw(seller, unit, u(0)), core.ErrAmountMustBePositive)
	require.ErrorIs(t, f.svc.Withdraw(seller, otherUnit, u(1)), core.ErrPaymentTokenNotSupported)
	require.ErrorIs(t, f.svc.Withdraw(seller, unit, u(976)), core.ErrInsufficientFunds)

	require.NoError(t, f.svc.Withdraw(seller, unit, u(975)))
	require.Zero(t, f.balance(seller))
	paid, err := f.pay.BalanceOf(unit, seller)
	require.NoError(t, err)
	require.Equal(t, uint64(975), paid.Uint64())
	require.ErrorIs(t, f.svc.Withdraw(seller, unit, u(1)), core.ErrInsufficientFunds)

	ev := f.lastEvent(events.EventFundsWithdrawn)
	require.Equal(t, seller, ev.Data["account"])
}

func TestAdministration(t *testing.T) {
	f := setup(t, market.V1)

	require.ErrorIs(t, f.svc.AddPaymentUnit(other, otherUnit), core.ErrNotAdministrator)
	require.ErrorIs(t, f.svc.AddPaymentUnit(admin, core.ZeroAddress), core.ErrZeroAddress)
	require.NoError(t, f.svc.AddPaymentUnit(admin, otherUnit))
	count := len(f.events)
	require.NoError(t, f.svc.AddPaymentUnit(admin, otherUnit))
	require.Len(t, f.events, count)
	units, err := f.svc.PaymentUnits()
	require.NoError(t, err)
	require.Equal(t, []core.Address{unit, otherUnit}, units)

	require.ErrorIs(t, f.svc.ChangeProtocolWallet(admin, core.ZeroAddress), core.ErrZeroAddress)
	require.NoError(t, f.svc.ChangeProtocolWallet(admin, other))

	require.ErrorIs(t, f.svc.ChangeProtocolFee(admin, u(1), u(0)), core.ErrZeroDenominator)
	require.ErrorIs(t, f.svc.ChangeProtocolFee(admin, u(2), u(1)), core.ErrFeeTooHigh)
	require.ErrorIs(t, f.svc.ChangeProtocolFee(other, u(1), u(100)), core.ErrNotAdministrator)
	require.NoError(t, f.svc.ChangeProtocolFee(admin, u(1), u(100)))

	p, err := f.svc.Params()
	require.NoError(t, err)
	require.Equal(t, other, p.ProtocolWallet)
	require.Equal(t, uint64(1), p.FeeNumerator.Uint64())
	require.Equal(t, uint64(100), p.FeeDenominator.Uint64())

	require.ErrorIs(t, f.svc.Unpause(admin), core.ErrNotPaused)
	require.ErrorIs(t, f.svc.Pause(other), core.ErrNotAdministrator)
	require.NoError(t, f.svc.Pause(admin))
	require.ErrorIs(t, f.svc.Pause(admin), core.ErrContractPaused)
	require.ErrorIs(t, f.svc.Withdraw(seller, unit, u(1)), core.ErrContractPaused)
	// Administration keeps working while paused.
	require.NoError(t, f.svc.ChangeProtocolWallet(admin, wallet))
	require.NoError(t, f.svc.Unpause(admin))

	require.NoError(t, f.svc.GrantRole(admin, core.RoleReserver, other))
	members, err := f.svc.RoleMembers(core.RoleReserver)
	require.NoError(t, err)
	require.Equal(t, []core.Address{other, reserver}, members)
	require.NoError(t, f.svc.RevokeRole(admin, core.RoleReserver, reserver))
	has, err := f.svc.HasRole(core.RoleReserver, reserver)
	require.NoError(t, err)
	require.False(t, has)
	require.ErrorIs(t, f.svc.GrantRole(other, core.RoleReserver, other), core.ErrNotAdministrator)

	require.ErrorIs(t, f.svc.TransferAdmin(admin, core.ZeroAddress), core.ErrZeroAddress)
	require.NoError(t, f.svc.TransferAdmin(admin, other))
	require.ErrorIs(t, f.svc.Pause(admin), core.ErrNotAdministrator)
	require.NoError(t, f.svc.Pause(other))
}

func TestPauseGatesUserCalls(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	f.list(royaltyNFT, 1, 1000)
	require.NoError(t, f.svc.Pause(admin))
	before := f.snapshot()

	cases := map[string]func() error{
		"list": func() error {
			_, err := f.svc.List(seller, nft, u(2), u(1000), unit)
			return err
		},
		"unlist": func() error { return f.svc.Unlist(seller, nft, u(1)) },
		"unlist_stale": func() error {
			_, err := f.svc.UnlistStale(other, nft, u(1))
			return err
		},
		"buy": func() error {
			_, err := f.svc.Buy(buyer, nft, u(1))
			return err
		},
		"reserve":         func() error { return f.svc.Reserve(reserver, nft, u(1), 60, buyer) },
		"update_royalty":  func() error { return f.svc.UpdateRoyalty(artist, royaltyNFT, u(1), u(5)) },
		"refresh_royalty": func() error { return f.svc.RefreshRoyalty(seller, royaltyNFT, u(1)) },
		"withdraw":        func() error { return f.svc.Withdraw(seller, unit, u(1)) },
	}
	for name, run := range cases {
		require.ErrorIs(t, run(), core.ErrContractPaused, name)
	}
	require.Equal(t, before, f.snapshot())

	require.NoError(t, f.svc.Unpause(admin))
	_, err := f.svc.Buy(buyer, nft, u(1))
	require.NoError(t, err)
}

func TestFeeChangeBlocksOversizedListing(t *testing.T) {
	f := setup(t, market.V1)
	f.list(royaltyNFT, 1, 1000)

	require.NoError(t, f.svc.ChangeProtocolFee(admin, u(95), u(100)))
	_, err := f.svc.Buy(buyer, royaltyNFT, u(1))
	require.ErrorIs(t, err, core.ErrFeeExceedsPrice)

	listed, err := f.svc.IsListed(royaltyNFT, u(1))
	require.NoError(t, err)
	require.True(t, listed)
}

type snapshot struct {
	listings []*core.Listing
	balances map[core.Address]uint64
	roles    []core.Address
	dataRoot string
}

func (f *fixture) snapshot() snapshot {
	f.t.Helper()
	all, err := f.svc.AllListings()
	require.NoError(f.t, err)
	roles, err := f.svc.RoleMembers(core.RoleReserver)
	require.NoError(f.t, err)
	s := snapshot{listings: all, roles: roles, balances: map[core.Address]uint64{}, dataRoot: f.state.DataRoot()}
	for _, a := range []core.Address{seller, wallet, creator, artist} {
		s.balances[a] = f.balance(a)
	}
	return s
}

func TestUpgradeKeepsState(t *testing.T) {
	f := setup(t, market.V1)
	f.list(nft, 1, 1000)
	f.list(nft, 2, 2000)
	f.list(royaltyNFT, 1, 1000)
	_, err := f.svc.Buy(buyer, royaltyNFT, u(1))
	require.NoError(t, err)
	require.NoError(t, f.svc.Reserve(reserver, nft, u(2), 600, buyer))
	require.NoError(t, f.svc.GrantRole(admin, core.RoleReserver, other))

	before := f.snapshot()
	require.ErrorIs(t, f.svc.Upgrade(other, market.V2), core.ErrNotAdministrator)
	require.NoError(t, f.svc.Upgrade(admin, market.V2))
	require.Equal(t, before, f.snapshot())

	name, schema, err := f.svc.CurrentImplementation()
	require.NoError(t, err)
	require.Equal(t, market.V2, name)
	require.Equal(t, storage.SchemaV2, schema)
	ev := f.lastEvent(events.EventUpgraded)
	require.Equal(t, market.V1, ev.Data["previous"])

	// Listings written by the old logic still trade.
	_, err = f.svc.Buy(buyer, nft, u(2))
	require.NoError(t, err)

	// New listings carry the listing time.
	f.list(nft, 3, 500)
	l, err := f.svc.GetListing(nft, u(3))
	require.NoError(t, err)
	require.Equal(t, uint64(startTime), l.ListedAt)

	require.ErrorIs(t, f.svc.Upgrade(admin, market.V1), core.ErrSchemaDowngrade)
	require.ErrorIs(t, f.svc.Upgrade(admin, "market/v9"), core.ErrUnknownImplementation)
}

func TestPerAssetApproval(t *testing.T) {
	for _, tc := range []struct {
		impl string
		want error
	}{
		{market.V1, core.ErrMarketplaceNotApproved},
		{market.V2, nil},
	} {
		t.Run(tc.impl, func(t *testing.T) {
			f := setup(t, tc.impl)
			require.NoError(t, f.assets.SetApprovalForAll(nft, seller, vault, false))
			require.NoError(t, f.assets.Approve(nft, seller, vault, u(1)))

			_, err := f.svc.List(seller, nft, u(1), u(1000), unit)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			_, err = f.svc.Buy(buyer, nft, u(1))
			require.NoError(t, err)
		})
	}
}
