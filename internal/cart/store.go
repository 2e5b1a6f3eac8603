package cart

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Snapshot is a consistent view of the cart handed to subscribers.
type Snapshot struct {
	Items []model.CartItem
	model.Aggregates
}

// Store is the in-memory cart: the single source of truth for line items.
// It enforces one line per (product, variant) and quantity >= 1. Aggregates
// are computed from the items on every read.
//
// Subscribers are invoked synchronously after every successful mutation and
// must not mutate the Store from inside the callback.
type Store struct {
	mu    sync.RWMutex
	items []model.CartItem
	newID func() model.ID

	// notifyMu orders notifications so each one carries the latest state.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[uint64]func(Snapshot)
	nextSub  uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		newID: func() model.ID { return model.ID(uuid.New().String()) },
		subs:  make(map[uint64]func(Snapshot)),
	}
}

// Items returns a copy of the current items.
func (s *Store) Items() []model.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneItems(s.items)
}

// Len returns the number of lines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Aggregates computes count and total from the current items.
func (s *Store) Aggregates() model.Aggregates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.ComputeAggregates(s.items)
}

// Snapshot returns items and aggregates read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Items:      model.CloneItems(s.items),
		Aggregates: model.ComputeAggregates(s.items),
	}
}

// Find returns the item with the given id.
func (s *Store) Find(itemID model.ID) (model.CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(itemID); idx >= 0 {
		return s.items[idx], true
	}
	return model.CartItem{}, false
}

// FindByProduct returns the first item referencing productID, preferring the
// base product line.
func (s *Store) FindByProduct(productID model.ID) (model.CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := -1
	for i := range s.items {
		if s.items[i].ProductID != productID {
			continue
		}
		if s.items[i].VariantID.IsZero() {
			return s.items[i], true
		}
		if found < 0 {
			found = i
		}
	}
	if found >= 0 {
		return s.items[found], true
	}
	return model.CartItem{}, false
}

// Add merges quantity into the line for (product, variantID) or inserts a new
// line with a locally generated id.
func (s *Store) Add(product model.Product, quantity int, variantID model.ID) (model.CartItem, error) {
	if quantity < model.MinQuantity {
		return model.CartItem{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	key := model.ItemKey{ProductID: product.ID, VariantID: variantID}
	var result model.CartItem
	if idx := s.indexOfKey(key); idx >= 0 {
		s.items[idx].Quantity += quantity
		result = s.items[idx]
	} else {
		result = model.CartItem{
			ID:        s.newID(),
			ProductID: product.ID,
			Product:   product,
			Quantity:  quantity,
			VariantID: variantID,
		}
		s.items = append(s.items, result)
	}
	s.mu.Unlock()

	s.notify()
	return result, nil
}

// Remove deletes the item with the given id. Removing an absent id is a
// no-op; the return value reports whether anything changed.
func (s *Store) Remove(itemID model.ID) bool {
	s.mu.Lock()
	idx := s.indexOf(itemID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	s.mu.Unlock()

	s.notify()
	return true
}

// RemoveProduct deletes every line referencing productID.
func (s *Store) RemoveProduct(productID model.ID) bool {
	s.mu.Lock()
	kept := s.items[:0:0]
	for _, item := range s.items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	changed := len(kept) != len(s.items)
	s.items = kept
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// SetQuantity replaces the quantity of an item and returns the previous one.
// Quantities below 1 fail with ErrInvalidQuantity and leave the Store as is.
func (s *Store) SetQuantity(itemID model.ID, quantity int) (int, error) {
	if quantity < model.MinQuantity {
		return 0, ErrInvalidQuantity
	}

	s.mu.Lock()
	idx := s.indexOf(itemID)
	if idx < 0 {
		s.mu.Unlock()
		return 0, ErrItemNotFound
	}
	previous := s.items[idx].Quantity
	s.items[idx].Quantity = quantity
	s.mu.Unlock()

	s.notify()
	return previous, nil
}

// Upsert adopts a server row, replacing the line with the same id or key.
func (s *Store) Upsert(item model.CartItem) {
	if item.Quantity < model.MinQuantity {
		return
	}

	s.mu.Lock()
	idx := s.indexOf(item.ID)
	if idx < 0 {
		idx = s.indexOfKey(item.Key())
	}
	if idx >= 0 {
		if item.Product.ID.IsZero() {
			item.Product = s.items[idx].Product
		}
		s.items[idx] = item
	} else {
		s.items = append(s.items, item)
	}
	s.mu.Unlock()

	s.notify()
}

// Replace swaps the whole item list for an authoritative one. Lines with a
// quantity below 1 are dropped and duplicate keys are merged.
func (s *Store) Replace(items []model.CartItem) {
	normalized := normalizeItems(items, s.newID)

	s.mu.Lock()
	s.items = normalized
	s.mu.Unlock()

	s.notify()
}

// Clear empties the Store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()

	s.notify()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := s.Snapshot()
	cartItemsGauge.Set(float64(snap.Count))

	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) indexOf(itemID model.ID) int {
	if itemID.IsZero() {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfKey(key model.ItemKey) int {
	for i := range s.items {
		if s.items[i].Key() == key {
			return i
		}
	}
	return -1
}

// normalizeItems drops invalid lines, merges duplicate keys and fills in
// missing ids.
func normalizeItems(items []model.CartItem, newID func() model.ID) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	index := make(map[model.ItemKey]int, len(items))

	for _, item := range model.CloneItems(items) {
		if item.ProductID.IsZero() {
			item.ProductID = item.Product.ID
		}
		if item.ProductID.IsZero() || item.Quantity < model.MinQuantity {
			continue
		}
		if item.ID.IsZero() {
			item.ID = newID()
		}
		if i, ok := index[item.Key()]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.Key()] = len(out)
		out = append(out, item)
	}

	return out
}
