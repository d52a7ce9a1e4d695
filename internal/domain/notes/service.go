package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var validNoteStatus = map[string]bool{
	StatusDraft:          true,
	StatusFinal:          true,
	StatusAmended:        true,
	StatusEnteredInError: true,
}

// Service validates and persists notes and templates, and exposes the
// codec for legacy line-format import and export.
type Service struct {
	notes     NoteRepository
	templates TemplateRepository
}

func NewService(notes NoteRepository, templates TemplateRepository) *Service {
	return &Service{notes: notes, templates: templates}
}

// normalizeSegments defaults missing kinds to static, rejects unknown
// kinds, and assigns positional ids where the author left them blank.
func normalizeSegments(segs []Segment) error {
	for i := range segs {
		switch segs[i].Kind {
		case "":
			segs[i].Kind = SegmentStatic
		case SegmentStatic, SegmentDynamic:
		default:
			return fmt.Errorf("segment %d: invalid kind %q", i, segs[i].Kind)
		}
		if segs[i].ID == "" {
			segs[i].ID = fmt.Sprintf("seg-%d", i)
		}
	}
	return nil
}

// -- Notes --

func (s *Service) CreateNote(ctx context.Context, n *Note) error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if n.Status == "" {
		n.Status = StatusDraft
	}
	if !validNoteStatus[n.Status] {
		return fmt.Errorf("invalid status %q", n.Status)
	}
	if err := normalizeSegments(n.Segments); err != nil {
		return err
	}
	return s.notes.Create(ctx, n)
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*Note, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *Service) UpdateNote(ctx context.Context, n *Note) error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !validNoteStatus[n.Status] {
		return fmt.Errorf("invalid status %q", n.Status)
	}
	if err := normalizeSegments(n.Segments); err != nil {
		return err
	}
	return s.notes.Update(ctx, n)
}

func (s *Service) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return s.notes.Delete(ctx, id)
}

func (s *Service) SearchNotes(ctx context.Context, params map[string]string, limit, offset int) ([]*Note, int, error) {
	return s.notes.Search(ctx, params, limit, offset)
}

// ImportNote parses flat legacy lines into a new draft note.
func (s *Service) ImportNote(ctx context.Context, title, patientID, createdBy string, lines []string) (*Note, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	n := &Note{
		Title:     title,
		PatientID: patientID,
		Status:    StatusDraft,
		Segments:  Parse(lines),
		CreatedBy: createdBy,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ExportLines flattens a stored note back to the legacy line format.
func (s *Service) ExportLines(ctx context.Context, id uuid.UUID) ([]string, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return Serialize(n.Segments), nil
}

// -- Templates --

func (s *Service) CreateTemplate(ctx context.Context, t *NoteTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := normalizeSegments(t.Segments); err != nil {
		return err
	}
	return s.templates.Create(ctx, t)
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*NoteTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *NoteTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := normalizeSegments(t.Segments); err != nil {
		return err
	}
	return s.templates.Update(ctx, t)
}

func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return s.templates.Delete(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, userID string, limit, offset int) ([]*NoteTemplate, int, error) {
	return s.templates.ListVisible(ctx, userID, limit, offset)
}
