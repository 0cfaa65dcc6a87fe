package service

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/hwalton/brickstock/internal/domain"
)

// ScheduleWindow is the part of a day listings are spread over.
type ScheduleWindow struct {
	Start    time.Duration // offset from midnight
	End      time.Duration
	MinGap   time.Duration
	MaxItems int
	// Stale selects items not touched for this long.
	Stale time.Duration
}

var DefaultScheduleWindow = ScheduleWindow{
	Start:    9 * time.Hour,
	End:      21 * time.Hour,
	MinGap:   10 * time.Minute,
	MaxItems: 20,
	Stale:    7 * 24 * time.Hour,
}

type ScheduledListing struct {
	InventoryID string    `json:"inventory_id"`
	SKU         string    `json:"sku"`
	SetNumber   string    `json:"set_number"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform,omitempty"`
	At          time.Time `json:"at"`
}

type ListingSchedule struct {
	Date  string             `json:"date"`
	Items []ScheduledListing `json:"items"`
}

type ScheduleStore interface {
	ListedForSchedule(ctx context.Context, ownerID string, cutoff time.Time) ([]domain.InventoryItem, error)
}

// ScheduleService plans which stock to list or refresh on a given day.
type ScheduleService struct {
	store  ScheduleStore
	window ScheduleWindow
}

func NewScheduleService(s ScheduleStore, w ScheduleWindow) *ScheduleService {
	return &ScheduleService{store: s, window: w}
}

// ForDate builds the owner's schedule for the day containing date.
func (s *ScheduleService) ForDate(ctx context.Context, ownerID string, date time.Time) (ListingSchedule, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	items, err := s.store.ListedForSchedule(ctx, ownerID, day.Add(-s.window.Stale))
	if err != nil {
		return ListingSchedule{}, err
	}
	return Build(ownerID, day, items, s.window), nil
}

// scheduleSeed is stable for an (owner, day) pair.
func scheduleSeed(ownerID string, day time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(day.Format(time.DateOnly)))
	return h.Sum64()
}

// Build shuffles items with an RNG seeded from (owner, day) and spreads them
// over the window: one per equal slot, jittered, at least MinGap apart. The
// same inputs always give the same plan.
func Build(ownerID string, day time.Time, items []domain.InventoryItem, w ScheduleWindow) ListingSchedule {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	out := ListingSchedule{Date: day.Format(time.DateOnly), Items: []ScheduledListing{}}
	span := w.End - w.Start
	if len(items) == 0 || span <= 0 {
		return out
	}

	pool := make([]domain.InventoryItem, len(items))
	copy(pool, items)
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	seed := scheduleSeed(ownerID, day)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	n := len(pool)
	if w.MaxItems > 0 {
		n = min(n, w.MaxItems)
	}
	if w.MinGap > 0 {
		n = min(n, int(span/w.MinGap))
	}
	if n == 0 {
		return out
	}
	slot := (span / time.Duration(n)).Truncate(time.Minute)
	// jitter stays below slot-MinGap so neighbours keep the gap
	jitterMins := int64((slot - w.MinGap) / time.Minute)
	for i, it := range pool[:n] {
		offset := w.Start + time.Duration(i)*slot
		if jitterMins > 0 {
			offset += time.Duration(rng.Int64N(jitterMins)) * time.Minute
		}
		out.Items = append(out.Items, ScheduledListing{
			InventoryID: it.ID,
			SKU:         it.SKU,
			SetNumber:   it.SetNumber,
			Name:        it.Name,
			Platform:    it.ListingPlatform,
			At:          day.Add(offset),
		})
	}
	return out
}
