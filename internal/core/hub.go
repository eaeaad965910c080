package core

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber is a connection handle registered in a hub.
type Subscriber interface {
	SessionID() string
	UserID() int64
	// Deliver queues ev without blocking. A non-nil error means the event was not queued.
	Deliver(ev *Event) error
}

// HubKey is the constraint for hub keys.
type HubKey interface {
	comparable
	fmt.Stringer
}

// Hub maps keys to live subscriber sets. Each key has its own lock, so work on
// one key never waits for another key. Absent and empty keys are equivalent:
// entries are created on demand and dropped when they have no subscribers.
type Hub[K HubKey] struct {
	mu      sync.Mutex
	entries map[K]*hubEntry
	log     *zerolog.Logger
}

type hubEntry struct {
	// mu serializes every operation on the key, including the caller's work in Do.
	mu   sync.Mutex
	subs map[string]Subscriber
	// refs counts callers holding or waiting for mu; guarded by Hub.mu.
	refs int
}

// NewHub creates an empty hub.
func NewHub[K HubKey](logger *zerolog.Logger) *Hub[K] {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub[K]{
		entries: make(map[K]*hubEntry),
		log:     logger,
	}
}

// Tx is the view of one key handed to Do. It is valid only until Do returns.
type Tx[K HubKey] struct {
	key   K
	entry *hubEntry
	log   *zerolog.Logger
}

// Do runs fn while holding the key's lock. Mutations and broadcasts made through
// tx are totally ordered with those of every other Do on the same key.
func (h *Hub[K]) Do(key K, fn func(tx *Tx[K]) error) error {
	entry := h.acquire(key)
	defer h.release(key, entry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return fn(&Tx[K]{key: key, entry: entry, log: h.log})
}

func (h *Hub[K]) acquire(key K) *hubEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.entries[key]
	if !ok {
		entry = &hubEntry{subs: make(map[string]Subscriber)}
		h.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (h *Hub[K]) release(key K, entry *hubEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry.refs--
	// No one else holds the entry, so reading subs without entry.mu is safe.
	if entry.refs == 0 && len(entry.subs) == 0 {
		delete(h.entries, key)
	}
}

// Join adds s to the key's set. Joining twice is a no-op; it reports whether s was added.
func (h *Hub[K]) Join(key K, s Subscriber) bool {
	var added bool
	_ = h.Do(key, func(tx *Tx[K]) error {
		added = tx.Join(s)
		return nil
	})
	return added
}

// Leave removes s from the key's set and reports whether it was present.
func (h *Hub[K]) Leave(key K, s Subscriber) bool {
	var removed bool
	_ = h.Do(key, func(tx *Tx[K]) error {
		removed = tx.Leave(s)
		return nil
	})
	return removed
}

// Broadcast delivers ev to every subscriber of key and returns how many accepted it.
func (h *Hub[K]) Broadcast(key K, ev *Event) int {
	var n int
	_ = h.Do(key, func(tx *Tx[K]) error {
		n = tx.Broadcast(ev)
		return nil
	})
	return n
}

// Members returns a snapshot of the subscribers of key.
func (h *Hub[K]) Members(key K) []Subscriber {
	var subs []Subscriber
	_ = h.Do(key, func(tx *Tx[K]) error {
		subs = tx.Subscribers()
		return nil
	})
	return subs
}

// Len returns the number of tracked keys, counting keys with in-flight calls.
func (h *Hub[K]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Key returns the key this transaction operates on.
func (tx *Tx[K]) Key() K {
	return tx.key
}

// Join adds s; it reports false if s was already present.
func (tx *Tx[K]) Join(s Subscriber) bool {
	if _, ok := tx.entry.subs[s.SessionID()]; ok {
		return false
	}
	tx.entry.subs[s.SessionID()] = s
	return true
}

// Leave removes s; it reports false if s was not present.
func (tx *Tx[K]) Leave(s Subscriber) bool {
	if _, ok := tx.entry.subs[s.SessionID()]; !ok {
		return false
	}
	delete(tx.entry.subs, s.SessionID())
	return true
}

// Has reports whether s is subscribed.
func (tx *Tx[K]) Has(s Subscriber) bool {
	_, ok := tx.entry.subs[s.SessionID()]
	return ok
}

// Len returns the number of subscribers.
func (tx *Tx[K]) Len() int {
	return len(tx.entry.subs)
}

// Subscribers returns a snapshot of the current set.
func (tx *Tx[K]) Subscribers() []Subscriber {
	subs := make([]Subscriber, 0, len(tx.entry.subs))
	for _, s := range tx.entry.subs {
		subs = append(subs, s)
	}
	return subs
}

// HasUser reports whether any subscriber belongs to userID.
func (tx *Tx[K]) HasUser(userID int64) bool {
	for _, s := range tx.entry.subs {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

// Broadcast delivers ev to every subscriber.
func (tx *Tx[K]) Broadcast(ev *Event) int {
	return tx.BroadcastFunc(func(Subscriber) *Event { return ev })
}

// BroadcastFunc delivers the event built by fn to each subscriber; nil skips it.
// A failed delivery is logged and does not affect other subscribers.
func (tx *Tx[K]) BroadcastFunc(fn func(s Subscriber) *Event) int {
	delivered := 0
	for _, s := range tx.Subscribers() {
		ev := fn(s)
		if ev == nil {
			continue
		}
		if err := s.Deliver(ev); err != nil {
			tx.log.Warn().
				Err(err).
				Str("key", tx.key.String()).
				Str("session_id", s.SessionID()).
				Str("event", ev.Kind.String()).
				Msg("hub delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// SendToUser delivers ev to the subscribers that belong to userID.
func (tx *Tx[K]) SendToUser(userID int64, ev *Event) int {
	return tx.BroadcastFunc(func(s Subscriber) *Event {
		if s.UserID() != userID {
			return nil
		}
		return ev
	})
}

// SendExceptUser delivers ev to every subscriber not belonging to userID.
func (tx *Tx[K]) SendExceptUser(userID int64, ev *Event) int {
	return tx.BroadcastFunc(func(s Subscriber) *Event {
		if s.UserID() == userID {
			return nil
		}
		return ev
	})
}
