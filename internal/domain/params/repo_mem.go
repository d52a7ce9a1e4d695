package params

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// prefRepoMem backs development and tests when no database is configured.
type prefRepoMem struct {
	mu    sync.RWMutex
	prefs map[string]Preference // userID + "\x00" + key
}

func NewPreferenceRepoMem() PreferenceRepository {
	return &prefRepoMem{prefs: make(map[string]Preference)}
}

func prefMemKey(userID, key string) string { return userID + "\x00" + key }

func (r *prefRepoMem) Upsert(ctx context.Context, pref *Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := prefMemKey(pref.UserID, pref.Key)
	if existing, ok := r.prefs[k]; ok {
		pref.ID = existing.ID
	} else if pref.ID == uuid.Nil {
		pref.ID = uuid.New()
	}
	pref.UpdatedAt = time.Now().UTC()
	r.prefs[k] = *pref
	return nil
}

func (r *prefRepoMem) GetByUser(ctx context.Context, userID string) ([]*Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Preference
	for _, p := range r.prefs {
		if p.UserID == userID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *prefRepoMem) Get(ctx context.Context, userID, key string) (*Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prefs[prefMemKey(userID, key)]
	if !ok {
		return nil, ErrPreferenceNotFound
	}
	cp := p
	return &cp, nil
}

func (r *prefRepoMem) Delete(ctx context.Context, userID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := prefMemKey(userID, key)
	if _, ok := r.prefs[k]; !ok {
		return ErrPreferenceNotFound
	}
	delete(r.prefs, k)
	return nil
}
