// Package extensions manages durable user-defined functions that merge
// into the api object of every rendering session. Functions are compiled
// through the shared script engine when they are saved, so validation
// errors reach the author immediately instead of surfacing as segment
// errors later.
package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/tpn/internal/platform/script"
)

type Service struct {
	repo   FunctionRepository
	engine *script.Engine
}

// NewService wires the repository to the engine used for save-time
// compilation. Passing the server's shared engine keeps the compile
// cache warm for later renders.
func NewService(repo FunctionRepository, engine *script.Engine) *Service {
	if engine == nil {
		engine = script.New()
	}
	return &Service{repo: repo, engine: engine}
}

func (s *Service) CreateFunction(ctx context.Context, fn *CustomFunction) error {
	if err := s.validate(ctx, fn, uuid.Nil); err != nil {
		return err
	}
	return s.repo.Create(ctx, fn)
}

func (s *Service) GetFunction(ctx context.Context, id uuid.UUID) (*CustomFunction, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateFunction(ctx context.Context, fn *CustomFunction) error {
	if err := s.validate(ctx, fn, fn.ID); err != nil {
		return err
	}
	return s.repo.Update(ctx, fn)
}

func (s *Service) DeleteFunction(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListFunctions(ctx context.Context) ([]*CustomFunction, error) {
	return s.repo.List(ctx)
}

// Validate compiles without persisting, for editor-side previews.
func (s *Service) Validate(name string, params []string, source string) error {
	_, err := s.engine.CompileExtension(strings.TrimSpace(name), trimAll(params), source)
	return err
}

// Compiled loads every stored function and compiles it for merging into
// a session API. Functions that no longer compile are skipped; they were
// valid at save time, so a failure here means the grammar moved
// underneath them and re-saving will surface the error to the author.
func (s *Service) Compiled(ctx context.Context) (map[string]script.Extension, error) {
	fns, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]script.Extension, len(fns))
	for _, fn := range fns {
		ext, err := s.engine.CompileExtension(fn.Name, fn.Params, fn.Source)
		if err != nil {
			continue
		}
		out[fn.Name] = ext
	}
	return out, nil
}

func (s *Service) validate(ctx context.Context, fn *CustomFunction, selfID uuid.UUID) error {
	fn.Name = strings.TrimSpace(fn.Name)
	fn.Params = trimAll(fn.Params)
	if strings.TrimSpace(fn.Source) == "" {
		return fmt.Errorf("function source is required")
	}
	if _, err := s.engine.CompileExtension(fn.Name, fn.Params, fn.Source); err != nil {
		return err
	}
	existing, err := s.repo.GetByName(ctx, fn.Name)
	if err != nil && !errors.Is(err, ErrFunctionNotFound) {
		return err
	}
	if err == nil && existing.ID != selfID {
		return fmt.Errorf("function %q already exists", fn.Name)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
