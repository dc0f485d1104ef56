// Package memory implements store.Store on plain maps. It backs tests
// and local development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
)

type cardKey struct {
	userID uuid.UUID
	item   srs.ItemKey
}

type cardRecord struct {
	card    srs.Card
	version int64
}

type profileRecord struct {
	profile difficulty.Profile
	version int64
}

// data is the shared backing state. Repository methods on it do not
// lock; the Store wrappers decide whether a mutex is involved.
type data struct {
	cards    map[cardKey]cardRecord
	profiles map[uuid.UUID]profileRecord
	log      []store.ReviewEntry
}

func newData() *data {
	return &data{
		cards:    make(map[cardKey]cardRecord),
		profiles: make(map[uuid.UUID]profileRecord),
	}
}

// clone returns a deep copy, used to roll transactions back.
func (d *data) clone() *data {
	out := &data{
		cards:    make(map[cardKey]cardRecord, len(d.cards)),
		profiles: make(map[uuid.UUID]profileRecord, len(d.profiles)),
		log:      make([]store.ReviewEntry, len(d.log)),
	}
	for k, v := range d.cards {
		out.cards[k] = v
	}
	for k, v := range d.profiles {
		v.profile.Window = append([]bool(nil), v.profile.Window...)
		out.profiles[k] = v
	}
	copy(out.log, d.log)
	return out
}

// Store is the in-memory store.Store. One RWMutex guards all state;
// WithinTx holds the write lock for the whole callback and restores a
// snapshot when the callback fails, so partial writes never stick.
type Store struct {
	mu sync.RWMutex
	d  *data
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{d: newData()}
}

func (s *Store) Cards() store.CardRepository {
	return &cardRepo{mu: &s.mu, d: s.d}
}

func (s *Store) Profiles() store.ProfileRepository {
	return &profileRepo{mu: &s.mu, d: s.d}
}

func (s *Store) ReviewLog() store.ReviewLogRepository {
	return &logRepo{mu: &s.mu, d: s.d}
}

// WithinTx runs fn under the write lock against the live data, keeping
// a snapshot to restore when fn fails. The nested store's repositories
// skip locking since the lock is already held.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.d.clone()
	if err := fn(ctx, &txStore{d: s.d}); err != nil {
		*s.d = *snap
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// txStore is the view handed to WithinTx callbacks. Its repositories
// share the outer lock, and nested WithinTx calls join the transaction.
type txStore struct {
	d *data
}

func (s *txStore) Cards() store.CardRepository {
	return &cardRepo{d: s.d}
}

func (s *txStore) Profiles() store.ProfileRepository {
	return &profileRepo{d: s.d}
}

func (s *txStore) ReviewLog() store.ReviewLogRepository {
	return &logRepo{d: s.d}
}

func (s *txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	return fn(ctx, s)
}

func (s *txStore) Close() error {
	return nil
}

// --- cards ---

type cardRepo struct {
	mu *sync.RWMutex // nil inside a transaction
	d  *data
}

func (r *cardRepo) rlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *cardRepo) wlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *cardRepo) Get(_ context.Context, userID uuid.UUID, item srs.ItemKey) (*srs.Card, int64, error) {
	defer r.rlock()()

	rec, ok := r.d.cards[cardKey{userID: userID, item: item}]
	if !ok {
		return nil, 0, nil
	}
	c := rec.card
	return &c, rec.version, nil
}

func (r *cardRepo) Save(_ context.Context, card *srs.Card, version int64) error {
	defer r.wlock()()

	k := cardKey{userID: card.UserID, item: card.Item}
	rec, ok := r.d.cards[k]

	if version == 0 {
		if ok {
			return store.ErrConflict
		}
		r.d.cards[k] = cardRecord{card: *card, version: 1}
		return nil
	}
	if !ok || rec.version != version {
		return store.ErrConflict
	}
	r.d.cards[k] = cardRecord{card: *card, version: version + 1}
	return nil
}

func (r *cardRepo) ListDue(_ context.Context, userID uuid.UUID, now time.Time, limit int) ([]srs.Card, error) {
	defer r.rlock()()

	var due []srs.Card
	for k, rec := range r.d.cards {
		if k.userID == userID && rec.card.IsDue(now) {
			due = append(due, rec.card)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueDate.Equal(due[j].DueDate) {
			return due[i].DueDate.Before(due[j].DueDate)
		}
		return due[i].EasinessFactor < due[j].EasinessFactor
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *cardRepo) CountDue(_ context.Context, userID uuid.UUID, now time.Time) (int, error) {
	defer r.rlock()()

	n := 0
	for k, rec := range r.d.cards {
		if k.userID == userID && rec.card.IsDue(now) {
			n++
		}
	}
	return n, nil
}

func (r *cardRepo) NextDue(_ context.Context, userID uuid.UUID, now time.Time) (*time.Time, error) {
	defer r.rlock()()

	var next *time.Time
	for k, rec := range r.d.cards {
		if k.userID != userID || !rec.card.DueDate.After(now) {
			continue
		}
		due := rec.card.DueDate
		if next == nil || due.Before(*next) {
			next = &due
		}
	}
	return next, nil
}

func (r *cardRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]srs.Card, error) {
	defer r.rlock()()

	var cards []srs.Card
	for k, rec := range r.d.cards {
		if k.userID == userID {
			cards = append(cards, rec.card)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		a, b := cards[i].Item, cards[j].Item
		if a.VerbID != b.VerbID {
			return a.VerbID < b.VerbID
		}
		if a.Tense != b.Tense {
			return a.Tense < b.Tense
		}
		return a.Person < b.Person
	})
	return cards, nil
}

func (r *cardRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	defer r.wlock()()

	for k := range r.d.cards {
		if k.userID == userID {
			delete(r.d.cards, k)
		}
	}
	return nil
}

// --- profiles ---

type profileRepo struct {
	mu *sync.RWMutex
	d  *data
}

func (r *profileRepo) rlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *profileRepo) wlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *profileRepo) Get(_ context.Context, userID uuid.UUID) (*difficulty.Profile, int64, error) {
	defer r.rlock()()

	rec, ok := r.d.profiles[userID]
	if !ok {
		return nil, 0, nil
	}
	p := rec.profile
	p.Window = append([]bool(nil), rec.profile.Window...)
	return &p, rec.version, nil
}

func (r *profileRepo) Save(_ context.Context, profile *difficulty.Profile, version int64) error {
	defer r.wlock()()

	rec, ok := r.d.profiles[profile.UserID]

	stored := *profile
	stored.Window = append([]bool(nil), profile.Window...)

	if version == 0 {
		if ok {
			return store.ErrConflict
		}
		r.d.profiles[profile.UserID] = profileRecord{profile: stored, version: 1}
		return nil
	}
	if !ok || rec.version != version {
		return store.ErrConflict
	}
	r.d.profiles[profile.UserID] = profileRecord{profile: stored, version: version + 1}
	return nil
}

func (r *profileRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	defer r.wlock()()

	delete(r.d.profiles, userID)
	return nil
}

// --- review log ---

type logRepo struct {
	mu *sync.RWMutex
	d  *data
}

func (r *logRepo) rlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *logRepo) wlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *logRepo) Insert(_ context.Context, entry *store.ReviewEntry) error {
	defer r.wlock()()

	r.d.log = append(r.d.log, *entry)
	return nil
}

func (r *logRepo) CountSince(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	defer r.rlock()()

	n := 0
	for _, e := range r.d.log {
		if e.UserID == userID && !e.ReviewedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *logRepo) ActiveDays(_ context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	defer r.rlock()()

	seen := make(map[time.Time]struct{})
	for _, e := range r.d.log {
		if e.UserID != userID || e.ReviewedAt.Before(since) {
			continue
		}
		t := e.ReviewedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		seen[day] = struct{}{}
	}

	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

func (r *logRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	defer r.wlock()()

	kept := r.d.log[:0]
	for _, e := range r.d.log {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	r.d.log = kept
	return nil
}
