package scoring

import (
	"context"
	"fmt"
	"sync"

	"tower/internal/jobs"
)

// Library manages the curated reference sets used to anchor scoring.
// Admissions for the same character are serialized so that two passing
// jobs finishing at once cannot race the capacity check and overshoot
// the cap.
type Library struct {
	store    *jobs.Store
	capacity int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLibrary wraps a store with admission control at the given capacity.
func NewLibrary(store *jobs.Store, capacity int) (*Library, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("reference capacity must be positive, got %d", capacity)
	}
	return &Library{
		store:    store,
		capacity: capacity,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Capacity returns the per-character, per-modality reference cap.
func (l *Library) Capacity() int {
	return l.capacity
}

func (l *Library) lockFor(characterID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[characterID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[characterID] = lock
	}
	return lock
}

// References returns the character's reference set ordered by quality.
func (l *Library) References(ctx context.Context, characterID, modality string) ([]jobs.CharacterReference, error) {
	return l.store.ReferencesByCharacter(ctx, jobs.NormalizeCharacterID(characterID), modality)
}

// Count returns the current reference set size.
func (l *Library) Count(ctx context.Context, characterID, modality string) (int, error) {
	return l.store.CountReferences(ctx, jobs.NormalizeCharacterID(characterID), modality)
}

// Admit offers a candidate reference to the set. Under capacity the
// candidate is always added. At capacity it replaces the lowest-quality
// member only when its own quality is strictly higher; otherwise it is
// dropped and Admit returns false.
func (l *Library) Admit(ctx context.Context, ref *jobs.CharacterReference) (bool, error) {
	if ref == nil {
		return false, fmt.Errorf("reference is required")
	}
	normalized := jobs.NormalizeCharacterID(ref.CharacterID)
	if normalized == "" {
		return false, fmt.Errorf("reference character id is required")
	}
	if len(ref.Embedding) == 0 {
		return false, fmt.Errorf("reference embedding is required")
	}
	ref.CharacterID = normalized

	lock := l.lockFor(normalized)
	lock.Lock()
	defer lock.Unlock()

	return l.store.InsertReference(ctx, ref, l.capacity)
}
