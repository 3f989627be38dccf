// Package indexer maintains secondary indexes over committed calls so clients
// can query listings by seller and sales by account without scanning state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/storage"
)

// Index keys live outside the state prefixes, so they never affect state roots.
const (
	prefixSellerListings = "idx:seller:listing:"
	prefixAccountSales   = "idx:account:sale:"
)

// AssetKey names one listed asset.
type AssetKey struct {
	AssetContract core.Address `json:"asset_contract"`
	AssetID       string       `json:"asset_id"`
}

// Sale is one completed purchase.
type Sale struct {
	CallID        string       `json:"call_id"`
	AssetContract core.Address `json:"asset_contract"`
	AssetID       string       `json:"asset_id"`
	Buyer         core.Address `json:"buyer"`
	Seller        core.Address `json:"seller"`
	PaymentUnit   core.Address `json:"payment_unit"`
	Price         string       `json:"price"`
}

// Indexer subscribes to market events and updates secondary lookup tables.
type Indexer struct {
	mu      sync.Mutex
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventListed, idx.onListed)
	emitter.Subscribe(events.EventUnlisted, idx.onUnlisted)
	emitter.Subscribe(events.EventUnlistStale, idx.onUnlisted)
	emitter.Subscribe(events.EventBought, idx.onBought)
	return idx
}

// ListingsBySeller returns the assets seller currently has listed.
func (idx *Indexer) ListingsBySeller(seller core.Address) ([]AssetKey, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var keys []AssetKey
	err := idx.getList(prefixSellerListings+seller.Hex(), &keys)
	return keys, err
}

// SalesByAccount returns every sale account took part in, oldest first.
func (idx *Indexer) SalesByAccount(account core.Address) ([]Sale, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var sales []Sale
	err := idx.getList(prefixAccountSales+account.Hex(), &sales)
	return sales, err
}

// ---- event handlers ----

func assetKey(ev events.Event) (AssetKey, bool) {
	contract, ok := ev.Data["asset_contract"].(core.Address)
	if !ok {
		return AssetKey{}, false
	}
	id, ok := ev.Data["asset_id"].(*uint256.Int)
	if !ok || id == nil {
		return AssetKey{}, false
	}
	return AssetKey{AssetContract: contract, AssetID: id.Dec()}, true
}

func (idx *Indexer) onListed(ev events.Event) {
	seller, ok := ev.Data["seller"].(core.Address)
	key, kok := assetKey(ev)
	if !ok || !kok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	listKey := prefixSellerListings + seller.Hex()
	var keys []AssetKey
	if err := idx.getList(listKey, &keys); err != nil {
		idx.logErr(ev, err)
		return
	}
	idx.logErr(ev, idx.putList(listKey, append(keys, key)))
}

func (idx *Indexer) onUnlisted(ev events.Event) {
	seller, ok := ev.Data["seller"].(core.Address)
	key, kok := assetKey(ev)
	if !ok || !kok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	listKey := prefixSellerListings + seller.Hex()
	var keys []AssetKey
	if err := idx.getList(listKey, &keys); err != nil {
		idx.logErr(ev, err)
		return
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	idx.logErr(ev, idx.putList(listKey, filtered))
}

func (idx *Indexer) onBought(ev events.Event) {
	key, ok := assetKey(ev)
	if !ok {
		return
	}
	buyer, _ := ev.Data["buyer"].(core.Address)
	seller, _ := ev.Data["seller"].(core.Address)
	unit, _ := ev.Data["payment_unit"].(core.Address)
	price, _ := ev.Data["price"].(*uint256.Int)
	sale := Sale{
		CallID:        ev.CallID,
		AssetContract: key.AssetContract,
		AssetID:       key.AssetID,
		Buyer:         buyer,
		Seller:        seller,
		PaymentUnit:   unit,
	}
	if price != nil {
		sale.Price = price.Dec()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, account := range []core.Address{buyer, seller} {
		listKey := prefixAccountSales + account.Hex()
		var sales []Sale
		if err := idx.getList(listKey, &sales); err != nil {
			idx.logErr(ev, err)
			continue
		}
		idx.logErr(ev, idx.putList(listKey, append(sales, sale)))
		if buyer == seller {
			break
		}
	}
}

func (idx *Indexer) logErr(ev events.Event, err error) {
	if err != nil {
		log.WithFields(log.Fields{"event": ev.Type, "call_id": ev.CallID}).
			Warnf("indexer: %v", err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string, out any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // empty list
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("indexer unmarshal: %w", err)
	}
	return nil
}

func (idx *Indexer) putList(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
