// Package subscribers owns subscriber records: which location each chat
// watches and the alert state last observed for it.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/clock"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
)

var (
	ErrUnknownLocation = errors.New("unknown location")
	ErrNotSubscribed   = errors.New("recipient is not subscribed")
)

type Directory interface {
	Get(id string) (models.LocationNode, bool)
}

// Decider returns the alert state currently observed for sub.
type Decider func(sub models.Subscriber) (alerted bool, err error)

type Store struct {
	repo  repository.SubscriberRepository
	dir   Directory
	ttl   time.Duration
	clock clock.Clock
	locks *keyLock

	mu       sync.Mutex
	byID     map[string]models.Subscriber
	list     []models.Subscriber
	cachedAt time.Time
	valid    bool
	gen      uint64
}

func NewStore(repo repository.SubscriberRepository, dir Directory, ttl time.Duration, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		repo:  repo,
		dir:   dir,
		ttl:   ttl,
		clock: clk,
		locks: newKeyLock(),
	}
}

// ListAll returns every subscriber, served from the read cache while fresh.
func (s *Store) ListAll(ctx context.Context) ([]models.Subscriber, error) {
	s.mu.Lock()
	if s.fresh() {
		out := make([]models.Subscriber, len(s.list))
		copy(out, s.list)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	list, _, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Subscriber, len(list))
	copy(out, list)
	return out, nil
}

// Get returns the subscriber for recipientID or nil when there is none.
func (s *Store) Get(ctx context.Context, recipientID string) (*models.Subscriber, error) {
	s.mu.Lock()
	byID := s.byID
	fresh := s.fresh()
	s.mu.Unlock()

	if !fresh {
		var err error
		if _, byID, err = s.refresh(ctx); err != nil {
			return nil, err
		}
	}

	sub, ok := byID[recipientID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

// UpsertWatch points recipientID at locationID. The stored alert state is
// reset to clear so the next poll starts from a fresh baseline.
func (s *Store) UpsertWatch(ctx context.Context, recipientID, locationID, displayName string) error {
	if _, ok := s.dir.Get(locationID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	unlock := s.locks.Lock(recipientID)
	defer unlock()
	defer s.invalidate()

	now := s.clock.Now()
	return s.repo.UpsertSubscriber(ctx, &models.Subscriber{
		RecipientID:  recipientID,
		DisplayName:  displayName,
		LocationID:   locationID,
		SubscribedAt: now,
		UpdatedAt:    now,
	})
}

func (s *Store) Remove(ctx context.Context, recipientID string) (bool, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()
	defer s.invalidate()

	return s.repo.DeleteSubscriber(ctx, recipientID)
}

func (s *Store) SetLastKnownState(ctx context.Context, recipientID string, alerted bool) error {
	unlock := s.locks.Lock(recipientID)
	defer unlock()
	defer s.invalidate()

	return s.repo.SetAlertState(ctx, recipientID, alerted, s.clock.Now())
}

// Transition evaluates recipientID under its write lock. decide sees the
// current record; when its answer differs from the stored state the new
// state is persisted before Transition returns. changed is false for
// no-ops, and on error nothing was persisted.
func (s *Store) Transition(ctx context.Context, recipientID string, decide Decider) (sub models.Subscriber, changed bool, err error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()

	current, err := s.Get(ctx, recipientID)
	if err != nil {
		return models.Subscriber{}, false, err
	}
	if current == nil {
		return models.Subscriber{}, false, fmt.Errorf("%w: %s", ErrNotSubscribed, recipientID)
	}

	alerted, err := decide(*current)
	if err != nil {
		return *current, false, err
	}
	if alerted == current.LastAlertState {
		return *current, false, nil
	}

	now := s.clock.Now()
	err = s.repo.SetAlertState(ctx, recipientID, alerted, now)
	s.invalidate()
	if err != nil {
		return *current, false, err
	}

	current.LastAlertState = alerted
	current.UpdatedAt = now
	return *current, true, nil
}

func (s *Store) fresh() bool {
	return s.valid && s.clock.Now().Sub(s.cachedAt) < s.ttl
}

// refresh reloads the cache. A write that lands while the read is in flight
// bumps gen; the caller still gets the result but it is not cached.
func (s *Store) refresh(ctx context.Context) ([]models.Subscriber, map[string]models.Subscriber, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	list, err := s.repo.ListSubscribers(ctx)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]models.Subscriber, len(list))
	for _, sub := range list {
		byID[sub.RecipientID] = sub
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.byID = byID
		s.list = list
		s.cachedAt = s.clock.Now()
		s.valid = true
	}
	return list, byID, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.valid = false
	s.gen++
	s.mu.Unlock()
}
