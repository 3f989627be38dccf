package events

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType labels what happened.
type EventType string

const (
	EventListed                EventType = "listed"
	EventUnlisted              EventType = "unlisted"
	EventUnlistStale           EventType = "unlist_stale"
	EventBought                EventType = "bought"
	EventReserved              EventType = "reserved"
	EventRoyaltiesSet          EventType = "royalties_set"
	EventFundsWithdrawn        EventType = "funds_withdrawn"
	EventPaymentTokenAdded     EventType = "payment_token_added"
	EventProtocolWalletChanged EventType = "protocol_wallet_changed"
	EventProtocolFeeChanged    EventType = "protocol_fee_changed"
	EventPaused                EventType = "paused"
	EventUnpaused              EventType = "unpaused"
	EventRoleGranted           EventType = "role_granted"
	EventRoleRevoked           EventType = "role_revoked"
	EventAdministratorChanged  EventType = "administrator_changed"
	EventUpgraded              EventType = "upgraded"
)

// Event carries a typed payload emitted after a call commits.
type Event struct {
	Type   EventType      `json:"type"`
	CallID string         `json:"call_id"`
	Data   map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot abort the call that produced the event.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{"event": ev.Type, "call_id": ev.CallID}).
						Errorf("events: handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
