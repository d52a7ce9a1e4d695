package extensions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type functionRepoMem struct {
	mu  sync.RWMutex
	fns map[uuid.UUID]*CustomFunction
}

func NewFunctionRepoMem() FunctionRepository {
	return &functionRepoMem{fns: make(map[uuid.UUID]*CustomFunction)}
}

func copyFunction(fn *CustomFunction) *CustomFunction {
	cp := *fn
	cp.Params = append([]string(nil), fn.Params...)
	return &cp
}

func (r *functionRepoMem) Create(ctx context.Context, fn *CustomFunction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn.ID = uuid.New()
	now := time.Now().UTC()
	fn.CreatedAt = now
	fn.UpdatedAt = now
	r.fns[fn.ID] = copyFunction(fn)
	return nil
}

func (r *functionRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*CustomFunction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[id]
	if !ok {
		return nil, ErrFunctionNotFound
	}
	return copyFunction(fn), nil
}

func (r *functionRepoMem) GetByName(ctx context.Context, name string) (*CustomFunction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.fns {
		if fn.Name == name {
			return copyFunction(fn), nil
		}
	}
	return nil, ErrFunctionNotFound
}

func (r *functionRepoMem) Update(ctx context.Context, fn *CustomFunction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.fns[fn.ID]
	if !ok {
		return ErrFunctionNotFound
	}
	fn.CreatedBy = existing.CreatedBy
	fn.CreatedAt = existing.CreatedAt
	fn.UpdatedAt = time.Now().UTC()
	r.fns[fn.ID] = copyFunction(fn)
	return nil
}

func (r *functionRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[id]; !ok {
		return ErrFunctionNotFound
	}
	delete(r.fns, id)
	return nil
}

func (r *functionRepoMem) List(ctx context.Context) ([]*CustomFunction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CustomFunction, 0, len(r.fns))
	for _, fn := range r.fns {
		out = append(out, copyFunction(fn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
