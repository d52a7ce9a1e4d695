package extensions

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrFunctionNotFound = errors.New("custom function not found")

// FunctionRepository stores custom functions. Names are unique; the
// service checks for conflicts before writing and the database backs it
// with a constraint.
type FunctionRepository interface {
	Create(ctx context.Context, fn *CustomFunction) error
	GetByID(ctx context.Context, id uuid.UUID) (*CustomFunction, error)
	GetByName(ctx context.Context, name string) (*CustomFunction, error)
	Update(ctx context.Context, fn *CustomFunction) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*CustomFunction, error)
}
