// Package worksheet implements the TPN editing session: an in-memory
// object owning the entered parameter values, the parsed segment list,
// the range snapshot taken at open time, and the session audit log.
// Worksheets are single-writer; the registry hands out one session per
// open and evicts the least recently used when full.
package worksheet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/internal/domain/ranges"
)

// Render record statuses.
const (
	RunOK    = "ok"
	RunError = "error"
)

// maxRecords bounds the per-worksheet ring of recent executions.
const maxRecords = 32

// RenderRecord is one dynamic-segment execution, kept in a bounded ring
// so the state endpoint can show recent activity without unbounded
// growth over a long editing session.
type RenderRecord struct {
	Seq        int       `json:"seq"`
	SegmentID  string    `json:"segment_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Steps      int       `json:"steps"`
	DurationMS float64   `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// recordRing is a fixed-size ring buffer of render records. Seq numbers
// keep increasing across wraps so clients can detect dropped records.
type recordRing struct {
	records []RenderRecord
	next    int
	seq     int
	full    bool
}

func newRecordRing(size int) *recordRing {
	if size <= 0 {
		size = maxRecords
	}
	return &recordRing{records: make([]RenderRecord, size)}
}

func (r *recordRing) append(rec RenderRecord) {
	r.seq++
	rec.Seq = r.seq
	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
}

// list returns the retained records oldest first.
func (r *recordRing) list() []RenderRecord {
	if !r.full {
		out := make([]RenderRecord, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]RenderRecord, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

// Worksheet is one open editing session. All mutable state is guarded by
// mu; the exported identity fields are written once at open time. The
// last-access instant is atomic because the registry touches it outside
// the worksheet lock.
type Worksheet struct {
	ID       uuid.UUID
	NoteID   *uuid.UUID
	Title    string
	OpenedBy string
	OpenedAt time.Time

	lastUnix int64

	mu       sync.Mutex
	segments []notes.Segment
	store    *params.Store
	prefs    map[string]string
	rangeSet *ranges.Set
	warnings map[string]bool
	events   []*ranges.ValidationEvent
	records  *recordRing
}

func (w *Worksheet) touch() {
	atomic.StoreInt64(&w.lastUnix, time.Now().UnixNano())
}

// LastAccess returns the instant the session was last fetched from the
// registry.
func (w *Worksheet) LastAccess() time.Time {
	return time.Unix(0, atomic.LoadInt64(&w.lastUnix))
}

// State is the JSON snapshot served by the worksheet state endpoint.
type State struct {
	ID           uuid.UUID              `json:"id"`
	NoteID       *uuid.UUID             `json:"note_id,omitempty"`
	Title        string                 `json:"title"`
	OpenedBy     string                 `json:"opened_by,omitempty"`
	OpenedAt     time.Time              `json:"opened_at"`
	LastAccess   time.Time              `json:"last_access"`
	SegmentCount int                    `json:"segment_count"`
	Segments     []notes.Segment        `json:"segments"`
	Values       map[string]interface{} `json:"values"`
	Warnings     []string               `json:"warnings,omitempty"`
	EventCount   int                    `json:"event_count"`
	RecentRuns   []RenderRecord         `json:"recent_runs,omitempty"`
}

// Summary is the list-endpoint view of an open session.
type Summary struct {
	ID           uuid.UUID  `json:"id"`
	NoteID       *uuid.UUID `json:"note_id,omitempty"`
	Title        string     `json:"title"`
	OpenedBy     string     `json:"opened_by,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	LastAccess   time.Time  `json:"last_access"`
	SegmentCount int        `json:"segment_count"`
}

// RenderedSegment is one segment's output slot. Error carries the
// message behind an inline error marker so clients can surface it
// without parsing the output text.
type RenderedSegment struct {
	SegmentID string `json:"segment_id"`
	Kind      string `json:"kind"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
}

// RenderResult is a full or single-segment render. HTML joins the
// segment outputs in document order.
type RenderResult struct {
	WorksheetID uuid.UUID         `json:"worksheet_id"`
	Segments    []RenderedSegment `json:"segments"`
	HTML        string            `json:"html"`
	Errors      int               `json:"errors"`
	DurationMS  float64           `json:"duration_ms"`
}

// SegmentDeps reports which parameters one dynamic segment reads,
// directly and through the derived-value closure.
type SegmentDeps struct {
	SegmentID  string   `json:"segment_id"`
	Direct     []string `json:"direct"`
	Transitive []string `json:"transitive"`
}

// DepsReport is the per-segment dependency report plus the union over
// the whole document.
type DepsReport struct {
	WorksheetID uuid.UUID     `json:"worksheet_id"`
	Segments    []SegmentDeps `json:"segments"`
	Union       []string      `json:"union"`
}

// SetResult is the outcome of a batch value load. Rejected lists keys
// that name derived values or carry values of an unsupported type.
type SetResult struct {
	Applied  []string                  `json:"applied"`
	Rejected []string                  `json:"rejected,omitempty"`
	Reverted []string                  `json:"reverted,omitempty"`
	Events   []*ranges.ValidationEvent `json:"events,omitempty"`
	Values   map[string]interface{}    `json:"values"`
}

// ChangeResult is the outcome of one interactive value change. When a
// firm violation needs the user's answer and none was supplied,
// RequiresConfirm is set and nothing was mutated.
type ChangeResult struct {
	Key             string                  `json:"key"`
	Accepted        float64                 `json:"accepted"`
	Reverted        bool                    `json:"reverted"`
	Warning         bool                    `json:"warning"`
	RequiresConfirm bool                    `json:"requires_confirm,omitempty"`
	Result          ranges.CheckResult      `json:"result"`
	Event           *ranges.ValidationEvent `json:"event,omitempty"`
	Values          map[string]interface{}  `json:"values"`
}
