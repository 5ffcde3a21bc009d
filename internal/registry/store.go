package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrAssetNotFound is returned when an operation references an unknown asset id.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAssetExists is returned when creating an asset whose id is already registered.
	ErrAssetExists = errors.New("asset already exists")
)

// Store is the canonical asset registry. It only grows: assets are never
// deleted and their ids are never reassigned.
//
// Writes to a single asset are serialized by that asset's lock; the store
// lock guards the id map and identity/ownership tables. Locks are always
// taken in the order store, asset, index. All reads return deep copies.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	order      []string
	identities map[string][]*entry
	owners     map[ChainAddress]string

	strategy  MatchStrategy
	search    *SearchIndex
	holders   *ReverseIndex
	exchanges *ReverseIndex
	contracts *ReverseIndex
	conflicts *ConflictLog
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithStrategy sets the identity matching strategy. Defaults to ExactStrategy.
func WithStrategy(strategy MatchStrategy) Option {
	return func(s *Store) {
		if strategy != nil {
			s.strategy = strategy
		}
	}
}

// WithConflictCapacity bounds the number of retained conflicts.
func WithConflictCapacity(capacity int) Option {
	return func(s *Store) {
		s.conflicts = NewConflictLog(capacity)
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		identities: make(map[string][]*entry),
		owners:     make(map[ChainAddress]string),
		strategy:   ExactStrategy{},
		search:     NewSearchIndex(),
		holders:    NewReverseIndex(),
		exchanges:  NewReverseIndex(),
		contracts:  NewReverseIndex(),
		conflicts:  NewConflictLog(DefaultConflictCapacity),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the identity matching strategy in use.
func (s *Store) Strategy() MatchStrategy {
	return s.strategy
}

// Now returns the current time according to the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Create registers a new asset and indexes its symbol and name.
func (s *Store) Create(id, symbol, name string) (Asset, error) {
	created, err := s.EnsureAsset(id, symbol, name)
	if err != nil {
		return Asset{}, err
	}
	if !created {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetExists, id)
	}
	a, _ := s.Get(id)
	return a, nil
}

// EnsureAsset creates the asset unless one with the same id exists already.
// It reports whether a new asset was created.
func (s *Store) EnsureAsset(id, symbol, name string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("asset id is required")
	}
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return false, nil
	}
	e := newEntry(len(s.order), id, symbol, name, s.now())
	s.entries[id] = e
	s.order = append(s.order, id)
	key := s.strategy.Key(symbol, name)
	s.identities[key] = append(s.identities[key], e)
	s.search.Add(id, symbol, name)
	return true, nil
}

// Rename updates the symbol and name of an existing asset. The asset is
// re-keyed for identity matching; previous search terms remain indexed.
func (s *Store) Rename(id, symbol, name string) (bool, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.symbol == symbol && e.name == name {
		return false, nil
	}
	oldKey := s.strategy.Key(e.symbol, e.name)
	newKey := s.strategy.Key(symbol, name)
	if oldKey != newKey {
		s.identities[oldKey] = removeEntry(s.identities[oldKey], e)
		if len(s.identities[oldKey]) == 0 {
			delete(s.identities, oldKey)
		}
		s.identities[newKey] = insertBySeq(s.identities[newKey], e)
	}
	e.symbol = symbol
	e.name = name
	e.updatedAt = s.now()
	s.search.Add(id, symbol, name)
	return true, nil
}

// MatchIdentity returns the ids of assets whose (symbol, name) match under
// the store's strategy, in creation order.
func (s *Store) MatchIdentity(symbol, name string) []string {
	key := s.strategy.Key(NormalizeSymbol(symbol), name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.identities[key]
	ids := make([]string, len(matches))
	for i, e := range matches {
		ids[i] = e.id
	}
	return ids
}

// AttachAddress adds a contract address to an asset. A pair already owned by
// another asset is not attached and its owner is returned instead; the
// existing owner is never overwritten.
func (s *Store) AttachAddress(id string, addr ChainAddress) (attached bool, owner string, err error) {
	addr.Chain = strings.TrimSpace(addr.Chain)
	addr.Address = strings.TrimSpace(addr.Address)
	if addr.Address == "" {
		return false, "", nil
	}
	k := addr.key()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, "", fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if current, taken := s.owners[k]; taken {
		if current == id {
			return false, "", nil
		}
		return false, current, nil
	}
	s.owners[k] = id

	e.mu.Lock()
	e.addresses[k] = addr
	e.updatedAt = s.now()
	e.mu.Unlock()

	s.contracts.Add(k.Address, id)
	return true, "", nil
}

// SetSupply replaces the supply snapshot of an asset with a copy of snap.
func (s *Store) SetSupply(id string, snap SupplySnapshot) error {
	e, ok := s.entry(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if snap.AsOf.IsZero() {
		snap.AsOf = s.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.supply = snap.Clone()
	e.updatedAt = s.now()
	return nil
}

// SetCachedPrice overwrites the cached price of an asset, creating a
// price-only snapshot when none exists yet.
func (s *Store) SetCachedPrice(id string, price float64, asOf time.Time) error {
	e, ok := s.entry(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.supply == nil {
		e.supply = &SupplySnapshot{}
	}
	e.supply.CachedPrice = &price
	e.supply.AsOf = asOf
	e.updatedAt = s.now()
	return nil
}

// AddListing adds an exchange listing with set semantics and indexes its
// base and pair for search. It reports whether the listing was new.
func (s *Store) AddListing(id string, kind ListingKind, l Listing) (bool, error) {
	if l.ExchangeID == "" || l.Pair == "" {
		return false, fmt.Errorf("listing requires exchange id and pair")
	}
	e, ok := s.entry(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.listings(kind)
	if _, exists := set[l]; exists {
		return false, nil
	}
	set[l] = struct{}{}
	e.updatedAt = s.now()

	s.exchanges.Add(l.ExchangeID, id)
	base, _, _ := strings.Cut(l.Pair, "/")
	s.search.Add(id, base, l.Pair)
	return true, nil
}

// UpsertHolder inserts or overwrites the holder record keyed by its address
// and registers the asset in the holder index. It reports whether the holder was new.
func (s *Store) UpsertHolder(id string, rec HolderRecord) (bool, error) {
	key := NormalizeAddress(rec.Address)
	if key == "" {
		return false, fmt.Errorf("holder address is required")
	}
	e, ok := s.entry(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, existed := e.holders[key]
	e.holders[key] = rec.clone()
	e.updatedAt = s.now()
	s.holders.Add(key, id)
	return !existed, nil
}

// RecordConflict appends an entry to the conflict audit list.
func (s *Store) RecordConflict(c Conflict) Conflict {
	return s.conflicts.Record(c)
}

// Conflicts returns the retained conflict audit list, oldest first.
func (s *Store) Conflicts() []Conflict {
	return s.conflicts.List()
}

// ConflictTotal returns the number of conflicts ever recorded.
func (s *Store) ConflictTotal() int {
	return s.conflicts.Total()
}

// Get returns a copy of the asset with the given id.
func (s *Store) Get(id string) (Asset, bool) {
	e, ok := s.entry(id)
	if !ok {
		return Asset{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(), true
}

// Exists reports whether an asset with the given id is registered.
func (s *Store) Exists(id string) bool {
	_, ok := s.entry(id)
	return ok
}

// Len returns the number of registered assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// IDs returns all asset ids in creation order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// List returns up to limit assets in creation order starting at offset.
// A non-positive limit returns every asset from offset on.
func (s *Store) List(offset, limit int) []Asset {
	ids := s.IDs()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []Asset{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return s.getMany(ids)
}

// Search returns the assets indexed under term.
func (s *Store) Search(term string) []Asset {
	return s.getMany(s.search.Lookup(term))
}

// SearchIndexSize returns the number of distinct search terms.
func (s *Store) SearchIndexSize() int {
	return s.search.Size()
}

// ByContractAddress returns the assets deployed at address on any chain.
func (s *Store) ByContractAddress(address string) []Asset {
	return s.getMany(s.contracts.Lookup(NormalizeAddress(address)))
}

// ByExchange returns the assets with a spot or derivative listing on the exchange.
func (s *Store) ByExchange(exchangeID string) []Asset {
	return s.getMany(s.exchanges.Lookup(exchangeID))
}

// ByHolder returns the assets for which address is a recorded top holder.
func (s *Store) ByHolder(address string) []Asset {
	return s.getMany(s.HolderAssetIDs(address))
}

// HolderAssetIDs returns the ids of assets held by address.
func (s *Store) HolderAssetIDs(address string) []string {
	return s.holders.Lookup(NormalizeAddress(address))
}

// HolderIndexSize returns the number of distinct holder addresses indexed.
func (s *Store) HolderIndexSize() int {
	return s.holders.Len()
}

// Export returns a copy of every asset in creation order.
func (s *Store) Export() []Asset {
	return s.getMany(s.IDs())
}

// Restore loads previously exported assets and rebuilds every index.
// Assets whose id is already registered are skipped. It returns the number
// of assets restored.
func (s *Store) Restore(assets []Asset) int {
	sorted := make([]Asset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	restored := 0
	for _, a := range sorted {
		created, err := s.EnsureAsset(a.ID, a.Symbol, a.Name)
		if err != nil || !created {
			continue
		}
		for _, addr := range a.OnChainAddresses {
			_, _, _ = s.AttachAddress(a.ID, addr)
		}
		for _, l := range a.SpotListings {
			_, _ = s.AddListing(a.ID, ListingSpot, l)
		}
		for _, l := range a.DerivativeListings {
			_, _ = s.AddListing(a.ID, ListingDerivative, l)
		}
		if a.Supply != nil {
			_ = s.SetSupply(a.ID, *a.Supply)
		}
		for _, h := range a.Holders {
			_, _ = s.UpsertHolder(a.ID, h)
		}

		e, _ := s.entry(a.ID)
		e.mu.Lock()
		if !a.CreatedAt.IsZero() {
			e.createdAt = a.CreatedAt
		}
		if !a.UpdatedAt.IsZero() {
			e.updatedAt = a.UpdatedAt
		}
		e.mu.Unlock()
		restored++
	}
	return restored
}

func (s *Store) entry(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *Store) getMany(ids []string) []Asset {
	out := make([]Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.Get(id); ok {
			out = append(out, a)
		}
	}
	return out
}

// NormalizeSymbol returns the canonical upper-case form of a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func removeEntry(list []*entry, e *entry) []*entry {
	out := list[:0]
	for _, v := range list {
		if v != e {
			out = append(out, v)
		}
	}
	return out
}

func insertBySeq(list []*entry, e *entry) []*entry {
	i := sort.Search(len(list), func(i int) bool { return list[i].seq > e.seq })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}
