package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

var _ core.State = (*StateDB)(nil)

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// scan returns the merged view (DB + write buffer) of every key under prefix.
func (s *StateDB) scan(prefix string) map[string][]byte {
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	return merged
}

// ---- Listings ----

func (s *StateDB) ListingCount() (uint64, error) {
	data, err := s.get(keyListingCount)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(data)
}

func (s *StateDB) SetListingCount(n uint64) error {
	s.set(keyListingCount, encodeUint64(n))
	return nil
}

func (s *StateDB) ListingAt(ptr uint64) (*core.Listing, error) {
	data, err := s.get(listingKey(ptr))
	if err != nil {
		return nil, err
	}
	return decodeListing(data)
}

func (s *StateDB) SetListingAt(ptr uint64, l *core.Listing) error {
	data, err := encodeListing(l)
	if err != nil {
		return err
	}
	s.set(listingKey(ptr), data)
	return nil
}

func (s *StateDB) DeleteListingAt(ptr uint64) error {
	s.del(listingKey(ptr))
	return nil
}

func (s *StateDB) ListingPointer(contract core.Address, id *uint256.Int) (uint64, bool, error) {
	data, err := s.get(listingIndexKey(contract, id))
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ptr, err := decodeUint64(data)
	if err != nil {
		return 0, false, err
	}
	return ptr, true, nil
}

func (s *StateDB) SetListingPointer(contract core.Address, id *uint256.Int, ptr uint64) error {
	s.set(listingIndexKey(contract, id), encodeUint64(ptr))
	return nil
}

func (s *StateDB) DeleteListingPointer(contract core.Address, id *uint256.Int) error {
	s.del(listingIndexKey(contract, id))
	return nil
}

// ---- Escrow ----

// Balance returns zero for accounts that were never credited.
func (s *StateDB) Balance(unit, account core.Address) (*uint256.Int, error) {
	data, err := s.get(balanceKey(unit, account))
	if errors.Is(err, core.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

// SetBalance keeps zero balances as explicit entries; balances are never
// deleted once created.
func (s *StateDB) SetBalance(unit, account core.Address, amount *uint256.Int) error {
	s.set(balanceKey(unit, account), intBytes(amount))
	return nil
}

// ---- Access control ----

func (s *StateDB) HasRole(role core.Role, account core.Address) (bool, error) {
	_, err := s.get(roleKey(role, account))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *StateDB) SetRole(role core.Role, account core.Address, granted bool) error {
	if granted {
		s.set(roleKey(role, account), []byte{1})
	} else {
		s.del(roleKey(role, account))
	}
	return nil
}

// RoleMembers returns the holders of role in ascending key order.
func (s *StateDB) RoleMembers(role core.Role) ([]core.Address, error) {
	prefix := roleKeyPrefix(role)
	entries := s.scan(prefix)
	members := make([]core.Address, 0, len(entries))
	for k := range entries {
		members = append(members, core.HexToAddress(strings.TrimPrefix(k, prefix)))
	}
	sortAddresses(members)
	return members, nil
}

// ---- Parameters ----

func (s *StateDB) Params() (*core.Params, error) {
	data, err := s.get(keyParams)
	if err != nil {
		return nil, err
	}
	return decodeParams(data)
}

func (s *StateDB) SetParams(p *core.Params) error {
	data, err := encodeParams(p)
	if err != nil {
		return err
	}
	s.set(keyParams, data)
	return nil
}

func (s *StateDB) IsPaymentUnit(unit core.Address) (bool, error) {
	_, err := s.get(unitKey(unit))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *StateDB) AddPaymentUnit(unit core.Address) error {
	s.set(unitKey(unit), []byte{1})
	return nil
}

func (s *StateDB) PaymentUnits() ([]core.Address, error) {
	entries := s.scan(prefixUnit)
	units := make([]core.Address, 0, len(entries))
	for k := range entries {
		units = append(units, core.HexToAddress(strings.TrimPrefix(k, prefixUnit)))
	}
	sortAddresses(units)
	return units, nil
}

// ---- Logic pointer ----

// Implementation returns "" when no logic has been installed yet.
func (s *StateDB) Implementation() (string, error) {
	data, err := s.get(keyImplementation)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetImplementation(name string) error {
	s.set(keyImplementation, []byte(name))
	return nil
}

// SchemaVersion returns 0 for a store that was never initialised.
func (s *StateDB) SchemaVersion() (uint64, error) {
	data, err := s.get(keySchemaVersion)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(data)
}

func (s *StateDB) SetSchemaVersion(v uint64) error {
	s.set(keySchemaVersion, encodeUint64(v))
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return errors.New("invalid snapshot id")
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete persisted state,
// logic pointer included. It does NOT flush or modify state.
func (s *StateDB) ComputeRoot() string {
	return s.root(statePrefixes)
}

// DataRoot is ComputeRoot restricted to the data prefixes. A logic upgrade
// must leave it unchanged.
func (s *StateDB) DataRoot() string {
	return s.root(dataPrefixes)
}

func (s *StateDB) root(prefixes []string) string {
	merged := make(map[string][]byte)
	for _, prefix := range prefixes {
		for k, v := range s.scan(prefix) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

func sortAddresses(addrs []core.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
