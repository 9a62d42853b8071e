package app

import (
	"context"
	"encoding/json"
	"sync"

	"smartpush/internal/profile"
	"smartpush/internal/storage"
)

// storeProfiles persists profiles as JSON blobs through the storage
// layer, so every driver the layer supports works unchanged.
type storeProfiles struct {
	st storage.Store
}

func (s *storeProfiles) Load(ctx context.Context, userID string) (*profile.Profile, bool, error) {
	b, ok, err := s.st.LoadProfile(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}
	p := &profile.Profile{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *storeProfiles) Save(ctx context.Context, p *profile.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.st.SaveProfile(ctx, p.UserID, b)
}

func (s *storeProfiles) Delete(ctx context.Context, userID string) error {
	return s.st.DeleteProfile(ctx, userID)
}

// memProfiles is the fallback when persistence is disabled. Blobs are
// kept marshaled so loads hand out independent copies.
type memProfiles struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func newMemProfiles() *memProfiles {
	return &memProfiles{m: map[string][]byte{}}
}

func (s *memProfiles) Load(_ context.Context, userID string) (*profile.Profile, bool, error) {
	s.mu.RLock()
	b, ok := s.m[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	p := &profile.Profile{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *memProfiles) Save(_ context.Context, p *profile.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.m[p.UserID] = b
	s.mu.Unlock()
	return nil
}

func (s *memProfiles) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
	return nil
}
