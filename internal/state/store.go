package state

import (
	"sort"

	"github.com/google/uuid"
)

// OpenInterest is the per-asset aggregate of active notional per side.
// It must always equal the sum of active positions' sizes on that side;
// the engine enforces this by adjusting it in the same critical section
// as every position mutation.
type OpenInterest struct {
	Long  int64
	Short int64
}

// ProtocolStats are monotonic counters over the engine's lifetime.
type ProtocolStats struct {
	PositionsOpened  int64
	PositionsClosed  int64
	Liquidations     int64
	TotalVolume      int64 // sum of opened notional
	TotalFees        int64 // protocol fees collected, quote units
	TotalValueLocked int64 // live locked collateral
}

// Store owns position records and open-interest aggregates. It performs
// no validation and no locking of its own: the engine serializes access
// and validates before mutating.
type Store struct {
	positions    map[int64]*Position
	byOwner      map[uuid.UUID]map[int64]struct{}
	openInterest map[string]*OpenInterest
	nextID       int64
	stats        ProtocolStats
}

func NewStore() *Store {
	return &Store{
		positions:    make(map[int64]*Position),
		byOwner:      make(map[uuid.UUID]map[int64]struct{}),
		openInterest: make(map[string]*OpenInterest),
		nextID:       1,
	}
}

// Insert assigns the next position id, records the position, and bumps
// the open-interest aggregate for its side.
func (s *Store) Insert(p *Position) int64 {
	p.ID = s.nextID
	s.nextID++
	s.positions[p.ID] = p

	owned := s.byOwner[p.Owner]
	if owned == nil {
		owned = make(map[int64]struct{})
		s.byOwner[p.Owner] = owned
	}
	owned[p.ID] = struct{}{}

	s.adjustOpenInterest(p.Asset, p.Side, p.Size)
	s.stats.PositionsOpened++
	s.stats.TotalVolume += p.Size
	return p.ID
}

// Get returns an active position by id, or ErrPositionNotFound.
func (s *Store) Get(id int64) (*Position, error) {
	p, ok := s.positions[id]
	if !ok || !p.Active {
		return nil, ErrPositionNotFound
	}
	return p, nil
}

// GetAny returns the position regardless of its active flag.
func (s *Store) GetAny(id int64) (*Position, bool) {
	p, ok := s.positions[id]
	return p, ok
}

// Deactivate marks a position closed at the given height and unwinds its
// open-interest contribution. liquidated routes the counter bump.
func (s *Store) Deactivate(p *Position, height int64, liquidated bool) {
	p.Active = false
	p.ClosedAt = height
	p.Version++
	s.adjustOpenInterest(p.Asset, p.Side, -p.Size)
	if liquidated {
		s.stats.Liquidations++
	} else {
		s.stats.PositionsClosed++
	}
}

// ReduceSize shrinks an active position's size (partial liquidation) and
// keeps the aggregate in step.
func (s *Store) ReduceSize(p *Position, delta int64) {
	p.Size -= delta
	p.Version++
	s.adjustOpenInterest(p.Asset, p.Side, -delta)
}

func (s *Store) adjustOpenInterest(asset string, side Side, delta int64) {
	oi := s.openInterest[asset]
	if oi == nil {
		oi = &OpenInterest{}
		s.openInterest[asset] = oi
	}
	if side == SideLong {
		oi.Long += delta
	} else {
		oi.Short += delta
	}
}

// OpenInterest returns the aggregate for an asset (zero value if the
// asset has never traded).
func (s *Store) OpenInterest(asset string) OpenInterest {
	if oi := s.openInterest[asset]; oi != nil {
		return *oi
	}
	return OpenInterest{}
}

// UserPositions returns the owner's positions sorted by id, active first
// ordering left to the caller.
func (s *Store) UserPositions(owner uuid.UUID) []*Position {
	ids := s.byOwner[owner]
	out := make([]*Position, 0, len(ids))
	for id := range ids {
		out = append(out, s.positions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveByAsset returns active positions for an asset sorted by id for
// deterministic iteration.
func (s *Store) ActiveByAsset(asset string) []*Position {
	out := make([]*Position, 0)
	for _, p := range s.positions {
		if p.Active && p.Asset == asset {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalPositions returns the count of positions ever opened.
func (s *Store) TotalPositions() int64 {
	return s.stats.PositionsOpened
}

// Stats returns a copy of the protocol counters.
func (s *Store) Stats() ProtocolStats {
	return s.stats
}

// AddFees records collected protocol fees.
func (s *Store) AddFees(amount int64) {
	s.stats.TotalFees += amount
}

// AdjustTVL tracks locked collateral entering (+) or leaving (-) custody.
func (s *Store) AdjustTVL(delta int64) {
	s.stats.TotalValueLocked += delta
}
