package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// Storage schema versions. The layout is append-only: a later version may add
// key prefixes or trailing optional record fields, never reorder, resize or
// rename what an earlier version wrote.
const (
	// SchemaV1: listings, listing index, balances, roles, payment units, params.
	SchemaV1 uint64 = 1
	// SchemaV2: listing records gain a trailing ListedAt field.
	SchemaV2 uint64 = 2

	CurrentSchema = SchemaV2
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. data marks prefixes that DataRoot() covers
// as well.
func registerPrefix(p string, data bool) string {
	statePrefixes = append(statePrefixes, p)
	if data {
		dataPrefixes = append(dataPrefixes, p)
	}
	return p
}

var (
	statePrefixes []string
	dataPrefixes  []string
)

var (
	prefixListing      = registerPrefix("list:", true)
	prefixListingIndex = registerPrefix("lidx:", true)
	prefixBalance      = registerPrefix("bal:", true)
	prefixRole         = registerPrefix("role:", true)
	prefixUnit         = registerPrefix("unit:", true)
	prefixMeta         = registerPrefix("meta:", true)
	prefixShim         = registerPrefix("shim:", false)
)

var (
	keyListingCount   = prefixMeta + "listings"
	keyParams         = prefixMeta + "params"
	keySchemaVersion  = prefixShim + "schema"
	keyImplementation = prefixShim + "impl"
)

func listingKey(ptr uint64) string {
	return fmt.Sprintf("%s%020d", prefixListing, ptr)
}

func listingIndexKey(contract core.Address, id *uint256.Int) string {
	b := id.Bytes32()
	return prefixListingIndex + contract.Hex() + ":" + hex.EncodeToString(b[:])
}

func balanceKey(unit, account core.Address) string {
	return prefixBalance + unit.Hex() + ":" + account.Hex()
}

func roleKey(role core.Role, account core.Address) string {
	return roleKeyPrefix(role) + account.Hex()
}

func roleKeyPrefix(role core.Role) string {
	return prefixRole + role.Hex() + ":"
}

func unitKey(unit core.Address) string {
	return prefixUnit + unit.Hex()
}

// ---- record encodings ----

// storedListing is the RLP form of core.Listing. Field order is part of the
// persisted layout.
type storedListing struct {
	ListPtr         uint64
	AssetContract   core.Address
	AssetID         []byte
	Seller          core.Address
	Price           []byte
	PaymentUnit     core.Address
	Kind            uint8
	ReservedUntil   uint64
	ReservedFor     core.Address
	RoyaltyReceiver core.Address
	RoyaltyAmount   []byte
	ListedAt        uint64 `rlp:"optional"` // SchemaV2
}

func encodeListing(l *core.Listing) ([]byte, error) {
	return rlp.EncodeToBytes(&storedListing{
		ListPtr:         l.ListPtr,
		AssetContract:   l.AssetContract,
		AssetID:         intBytes(l.AssetID),
		Seller:          l.Seller,
		Price:           intBytes(l.Price),
		PaymentUnit:     l.PaymentUnit,
		Kind:            uint8(l.Kind),
		ReservedUntil:   l.ReservedUntil,
		ReservedFor:     l.ReservedFor,
		RoyaltyReceiver: l.RoyaltyReceiver,
		RoyaltyAmount:   intBytes(l.RoyaltyAmount),
		ListedAt:        l.ListedAt,
	})
}

func decodeListing(data []byte) (*core.Listing, error) {
	var s storedListing
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &core.Listing{
		ListPtr:         s.ListPtr,
		AssetContract:   s.AssetContract,
		AssetID:         new(uint256.Int).SetBytes(s.AssetID),
		Seller:          s.Seller,
		Price:           new(uint256.Int).SetBytes(s.Price),
		PaymentUnit:     s.PaymentUnit,
		Kind:            core.AssetKind(s.Kind),
		ReservedUntil:   s.ReservedUntil,
		ReservedFor:     s.ReservedFor,
		RoyaltyReceiver: s.RoyaltyReceiver,
		RoyaltyAmount:   new(uint256.Int).SetBytes(s.RoyaltyAmount),
		ListedAt:        s.ListedAt,
	}, nil
}

type storedParams struct {
	Administrator  core.Address
	ProtocolWallet core.Address
	FeeNumerator   []byte
	FeeDenominator []byte
	Paused         bool
}

func encodeParams(p *core.Params) ([]byte, error) {
	return rlp.EncodeToBytes(&storedParams{
		Administrator:  p.Administrator,
		ProtocolWallet: p.ProtocolWallet,
		FeeNumerator:   intBytes(p.FeeNumerator),
		FeeDenominator: intBytes(p.FeeDenominator),
		Paused:         p.Paused,
	})
}

func decodeParams(data []byte) (*core.Params, error) {
	var s storedParams
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &core.Params{
		Administrator:  s.Administrator,
		ProtocolWallet: s.ProtocolWallet,
		FeeNumerator:   new(uint256.Int).SetBytes(s.FeeNumerator),
		FeeDenominator: new(uint256.Int).SetBytes(s.FeeDenominator),
		Paused:         s.Paused,
	}, nil
}

func intBytes(v *uint256.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
