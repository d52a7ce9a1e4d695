package notes

import (
	"time"

	"github.com/google/uuid"
)

// Segment kinds.
const (
	SegmentStatic  = "static"
	SegmentDynamic = "dynamic"
)

// Note statuses.
const (
	StatusDraft          = "draft"
	StatusFinal          = "final"
	StatusAmended        = "amended"
	StatusEnteredInError = "entered-in-error"
)

// TestCase is a named set of parameter bindings an author attaches to a
// dynamic segment so its output can be previewed without a live patient.
type TestCase struct {
	Name   string                 `json:"name"`
	Values map[string]interface{} `json:"values"`
}

// Segment is one unit of parsed documentation: static narrative text or
// dynamic code executed at render time. Order is significant and is
// preserved across codec round trips. Dynamic content is the raw code
// between delimiters with surrounding whitespace trimmed.
type Segment struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// Note is a saved TPN documentation instance: an ordered segment list
// plus authoring metadata. PatientID is an external identifier supplied
// by the calling system.
type Note struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	PatientID string    `json:"patient_id,omitempty"`
	Status    string    `json:"status"`
	Segments  []Segment `json:"segments"`
	CreatedBy string    `json:"created_by,omitempty"`
	VersionID int       `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteTemplate is shared, reusable documentation content. Shared
// templates are visible to every author; private ones only to their
// creator.
type NoteTemplate struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Shared    bool      `json:"shared"`
	Segments  []Segment `json:"segments"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
