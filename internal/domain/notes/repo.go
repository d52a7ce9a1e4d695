package notes

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNoteNotFound     = errors.New("note not found")
	ErrTemplateNotFound = errors.New("template not found")
)

// NoteRepository persists notes with their segment lists.
type NoteRepository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*Note, error)
	Update(ctx context.Context, n *Note) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Note, int, error)
}

// TemplateRepository persists shared and private note templates.
type TemplateRepository interface {
	Create(ctx context.Context, t *NoteTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*NoteTemplate, error)
	Update(ctx context.Context, t *NoteTemplate) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListVisible(ctx context.Context, userID string, limit, offset int) ([]*NoteTemplate, int, error)
}
