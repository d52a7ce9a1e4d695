package notes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =========== In-memory Note Repository ===========

type noteRepoMem struct {
	mu    sync.RWMutex
	notes map[uuid.UUID]*Note
}

func NewNoteRepoMem() NoteRepository {
	return &noteRepoMem{notes: make(map[uuid.UUID]*Note)}
}

func copyNote(n *Note) *Note {
	cp := *n
	cp.Segments = append([]Segment(nil), n.Segments...)
	return &cp
}

func (r *noteRepoMem) Create(ctx context.Context, n *Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uuid.New()
	n.VersionID = 1
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	r.notes[n.ID] = copyNote(n)
	return nil
}

func (r *noteRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notes[id]
	if !ok {
		return nil, ErrNoteNotFound
	}
	return copyNote(n), nil
}

func (r *noteRepoMem) Update(ctx context.Context, n *Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.notes[n.ID]
	if !ok {
		return ErrNoteNotFound
	}
	n.CreatedBy = existing.CreatedBy
	n.CreatedAt = existing.CreatedAt
	n.VersionID = existing.VersionID + 1
	n.UpdatedAt = time.Now().UTC()
	r.notes[n.ID] = copyNote(n)
	return nil
}

func (r *noteRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[id]; !ok {
		return ErrNoteNotFound
	}
	delete(r.notes, id)
	return nil
}

func (r *noteRepoMem) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Note, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*Note
	for _, n := range r.notes {
		if !noteMatches(n, params) {
			continue
		}
		matched = append(matched, copyNote(n))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func noteMatches(n *Note, params map[string]string) bool {
	for name, value := range params {
		switch name {
		case "title":
			if !strings.Contains(strings.ToLower(n.Title), strings.ToLower(value)) {
				return false
			}
		case "patient_id":
			if n.PatientID != value {
				return false
			}
		case "status":
			if n.Status != value {
				return false
			}
		case "created_by":
			if n.CreatedBy != value {
				return false
			}
		}
	}
	return true
}

// =========== In-memory Template Repository ===========

type templateRepoMem struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*NoteTemplate
}

func NewTemplateRepoMem() TemplateRepository {
	return &templateRepoMem{templates: make(map[uuid.UUID]*NoteTemplate)}
}

func copyTemplate(t *NoteTemplate) *NoteTemplate {
	cp := *t
	cp.Segments = append([]Segment(nil), t.Segments...)
	return &cp
}

func (r *templateRepoMem) Create(ctx context.Context, t *NoteTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.New()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	r.templates[t.ID] = copyTemplate(t)
	return nil
}

func (r *templateRepoMem) GetByID(ctx context.Context, id uuid.UUID) (*NoteTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return copyTemplate(t), nil
}

func (r *templateRepoMem) Update(ctx context.Context, t *NoteTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.templates[t.ID]
	if !ok {
		return ErrTemplateNotFound
	}
	t.CreatedBy = existing.CreatedBy
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	r.templates[t.ID] = copyTemplate(t)
	return nil
}

func (r *templateRepoMem) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *templateRepoMem) ListVisible(ctx context.Context, userID string, limit, offset int) ([]*NoteTemplate, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*NoteTemplate
	for _, t := range r.templates {
		if t.Shared || t.CreatedBy == userID {
			matched = append(matched, copyTemplate(t))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
