package worksheet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/tpn/internal/domain/extensions"
	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/platform/script"
	"github.com/ehr/tpn/internal/platform/telemetry"
	"github.com/ehr/tpn/internal/platform/websocket"
)

var (
	ErrNotFound         = errors.New("worksheet not found")
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrTestCaseNotFound = errors.New("test case not found")
)

// Deps wires the collaborating services into the worksheet session
// layer. Publisher and Metrics are optional; a nil value disables the
// corresponding side channel.
type Deps struct {
	Registry  *Registry
	Engine    *script.Engine
	Notes     *notes.Service
	Params    *params.Service
	Ranges    *ranges.Service
	Functions *extensions.Service
	Publisher websocket.EventPublisher
	Metrics   *telemetry.Provider
}

// Service owns the open-session registry and runs every worksheet
// operation: value entry through the range state machine, rendering,
// dependency reporting, and the session event log.
type Service struct {
	registry *Registry
	engine   *script.Engine
	notes    *notes.Service
	params   *params.Service
	ranges   *ranges.Service
	ext      *extensions.Service
	hub      websocket.EventPublisher
	metrics  *telemetry.Provider
}

func NewService(d Deps) *Service {
	if d.Registry == nil {
		d.Registry = NewRegistry(DefaultMaxSessions)
	}
	if d.Engine == nil {
		d.Engine = script.New()
	}
	return &Service{
		registry: d.Registry,
		engine:   d.Engine,
		notes:    d.Notes,
		params:   d.Params,
		ranges:   d.Ranges,
		ext:      d.Functions,
		hub:      d.Publisher,
		metrics:  d.Metrics,
	}
}

func (s *Service) catalog() *params.Catalog { return s.params.Catalog() }

// OpenRequest opens a session from a saved note or from raw legacy
// lines. With both absent the session starts empty.
type OpenRequest struct {
	NoteID *uuid.UUID `json:"note_id,omitempty"`
	Lines  []string   `json:"lines,omitempty"`
	Title  string     `json:"title,omitempty"`
}

// Open creates a session, snapshotting the active reference ranges and
// the user's preferences. The snapshot is immutable for the session's
// lifetime; range edits apply to later opens only.
func (s *Service) Open(ctx context.Context, req OpenRequest, userID string) (*State, error) {
	var (
		segs   []notes.Segment
		noteID *uuid.UUID
		title  = strings.TrimSpace(req.Title)
	)
	if req.NoteID != nil {
		n, err := s.notes.GetNote(ctx, *req.NoteID)
		if err != nil {
			return nil, err
		}
		segs = append([]notes.Segment(nil), n.Segments...)
		noteID = req.NoteID
		if title == "" {
			title = n.Title
		}
	} else {
		segs = notes.Parse(req.Lines)
	}
	if title == "" {
		title = "Untitled worksheet"
	}

	snap, err := s.ranges.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot ranges: %w", err)
	}
	prefs, err := s.params.PreferenceMap(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	ws := &Worksheet{
		ID:       uuid.New(),
		NoteID:   noteID,
		Title:    title,
		OpenedBy: userID,
		OpenedAt: time.Now().UTC(),
		segments: segs,
		store:    params.NewStore(s.catalog()),
		prefs:    prefs,
		rangeSet: snap,
		warnings: make(map[string]bool),
		records:  newRecordRing(maxRecords),
	}
	s.registry.Put(ws)
	if s.metrics != nil {
		s.metrics.GaugeSet(telemetry.MetricWorksheetsOpen, int64(s.registry.Len()))
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	return stateLocked(ws), nil
}

// State returns the session snapshot: entered values, warning flags,
// event count, and the recent execution ring.
func (s *Service) State(ctx context.Context, id uuid.UUID) (*State, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return stateLocked(ws), nil
}

// List returns a summary of every open session, least recently accessed
// first.
func (s *Service) List(ctx context.Context) []Summary {
	sessions := s.registry.All()
	out := make([]Summary, 0, len(sessions))
	for _, ws := range sessions {
		ws.mu.Lock()
		out = append(out, Summary{
			ID:           ws.ID,
			NoteID:       ws.NoteID,
			Title:        ws.Title,
			OpenedBy:     ws.OpenedBy,
			OpenedAt:     ws.OpenedAt,
			LastAccess:   ws.LastAccess(),
			SegmentCount: len(ws.segments),
		})
		ws.mu.Unlock()
	}
	return out
}

// Close drops the session. Entered values are discarded; durable edits
// live in the notes domain.
func (s *Service) Close(ctx context.Context, id uuid.UUID) error {
	ws, ok := s.registry.Remove(id)
	if !ok {
		return ErrNotFound
	}
	if s.metrics != nil {
		s.metrics.GaugeSet(telemetry.MetricWorksheetsOpen, int64(s.registry.Len()))
	}
	if s.hub != nil {
		s.hub.Publish(ctx, websocket.NewEvent(websocket.EventWorksheetClosed,
			websocket.WorksheetTopic(ws.ID.String()), ws.ID.String(), nil))
	}
	return nil
}

// SetValues merges a batch of entries through the unattended state
// machine: hard violations revert, firm violations are accepted with
// user action "continued", soft violations warn.
func (s *Service) SetValues(ctx context.Context, id uuid.UUID, values map[string]interface{}, userID string) (*SetResult, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return s.applyBatch(ctx, ws, values, userID), nil
}

// applyBatch runs the unattended path for each entry in sorted key order
// so rendering and event logs are deterministic. Caller holds ws.mu.
func (s *Service) applyBatch(ctx context.Context, ws *Worksheet, values map[string]interface{}, userID string) *SetResult {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &SetResult{}
	for _, key := range keys {
		canon := s.catalog().Canonicalize(key)
		if canon == "" {
			continue
		}
		if s.catalog().IsDerived(canon) {
			res.Rejected = append(res.Rejected, canon)
			continue
		}
		v := values[key]
		if v == nil {
			ws.store.Delete(canon)
			res.Applied = append(res.Applied, canon)
			continue
		}
		norm, ok := params.Normalize(v)
		if !ok {
			res.Rejected = append(res.Rejected, canon)
			continue
		}
		num, isNum := norm.(float64)
		if !isNum {
			ws.store.Set(canon, norm)
			res.Applied = append(res.Applied, canon)
			continue
		}

		old := ws.store.GetNumber(canon)
		had := ws.store.Has(canon)
		d := ranges.ApplyUnattended(canon, old, num, ws.warnings[canon], ws.rangeSet.Checker(canon))
		if !d.Reverted || had {
			ws.store.Set(canon, d.Accepted)
		}
		setWarning(ws, canon, d.Warning)
		if d.Event != nil {
			s.recordEvent(ctx, ws, d.Event, userID)
			res.Events = append(res.Events, d.Event)
		}
		if d.Reverted {
			res.Reverted = append(res.Reverted, canon)
		} else {
			res.Applied = append(res.Applied, canon)
		}
	}
	res.Values = ws.store.Values()
	return res
}

// ChangeRequest is one interactive numeric change. Confirm carries the
// user's answer to a firm violation; nil means not asked yet.
type ChangeRequest struct {
	Key     string  `json:"key"`
	Value   float64 `json:"value"`
	Confirm *bool   `json:"confirm,omitempty"`
}

// ApplyChange runs the interactive state machine for a single change.
// A firm violation without a supplied answer mutates nothing and comes
// back with RequiresConfirm set; the client re-submits with confirm
// true or false.
func (s *Service) ApplyChange(ctx context.Context, id uuid.UUID, req ChangeRequest, userID string) (*ChangeResult, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	canon := s.catalog().Canonicalize(strings.TrimSpace(req.Key))
	if canon == "" {
		return nil, fmt.Errorf("key is required")
	}
	if s.catalog().IsDerived(canon) {
		return nil, fmt.Errorf("%s is a derived value and cannot be entered", canon)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	old := ws.store.GetNumber(canon)
	had := ws.store.Has(canon)
	checker := ws.rangeSet.Checker(canon)

	if checker != nil && req.Confirm == nil {
		if result := checker.Check(req.Value); result.Severity == ranges.SeverityFirm {
			return &ChangeResult{
				Key:             canon,
				Accepted:        old,
				RequiresConfirm: true,
				Result:          result,
				Values:          ws.store.Values(),
			}, nil
		}
	}

	decide := func(ranges.CheckResult) bool { return req.Confirm != nil && *req.Confirm }
	d := ranges.ApplyChange(canon, old, req.Value, ws.warnings[canon], checker, decide)
	if !d.Reverted || had {
		ws.store.Set(canon, d.Accepted)
	}
	setWarning(ws, canon, d.Warning)
	if d.Event != nil {
		s.recordEvent(ctx, ws, d.Event, userID)
	}

	return &ChangeResult{
		Key:      canon,
		Accepted: d.Accepted,
		Reverted: d.Reverted,
		Warning:  d.Warning,
		Result:   d.Result,
		Event:    d.Event,
		Values:   ws.store.Values(),
	}, nil
}

// Render evaluates the whole document, or a single segment when
// segmentID is non-empty. Static segments are sanitized, dynamic ones
// executed; a failing segment renders an inline error marker and never
// aborts its siblings.
func (s *Service) Render(ctx context.Context, id uuid.UUID, segmentID string) (*RenderResult, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	custom, err := s.ext.Compiled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load custom functions: %w", err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	api := script.MergeExtensions(script.NewAPI(params.NewHost(ws.store, ws.prefs)),
		script.BaseExtensions(), script.MergeOptions{})
	api = script.MergeExtensions(api, custom, script.MergeOptions{})

	segs := ws.segments
	if segmentID != "" {
		seg, ok := findSegment(ws.segments, segmentID)
		if !ok {
			return nil, ErrSegmentNotFound
		}
		segs = []notes.Segment{seg}
	}

	start := time.Now()
	res := &RenderResult{WorksheetID: ws.ID, Segments: make([]RenderedSegment, 0, len(segs))}
	outputs := make([]string, 0, len(segs))
	for _, seg := range segs {
		rendered := s.renderSegment(ctx, ws, api, seg)
		if rendered.Error != "" {
			res.Errors++
		}
		res.Segments = append(res.Segments, rendered)
		outputs = append(outputs, rendered.Output)
	}
	res.HTML = strings.Join(outputs, "\n")
	res.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0

	if s.metrics != nil {
		s.metrics.Inc(telemetry.MetricRenders)
		s.metrics.Observe(telemetry.MetricRenderDuration, time.Since(start).Seconds())
	}
	if s.hub != nil {
		payload := map[string]interface{}{
			"segments":    len(res.Segments),
			"errors":      res.Errors,
			"duration_ms": res.DurationMS,
		}
		s.hub.Publish(ctx, websocket.NewEvent(websocket.EventRenderComplete,
			websocket.WorksheetTopic(ws.ID.String()), ws.ID.String(), payload))
	}
	return res, nil
}

func (s *Service) renderSegment(ctx context.Context, ws *Worksheet, api *script.API, seg notes.Segment) RenderedSegment {
	out := RenderedSegment{SegmentID: seg.ID, Kind: seg.Kind}
	if seg.Kind != notes.SegmentDynamic {
		out.Output = sanitizeStatic(seg.Content)
		return out
	}

	rec := RenderRecord{SegmentID: seg.ID, Status: RunOK, At: time.Now().UTC()}
	prog, err := s.engine.Compile(seg.Content)
	var result *script.Result
	if err == nil {
		result, err = s.engine.Execute(ctx, prog, api)
	}
	if err != nil {
		out.Error = err.Error()
		out.Output = errorMarker(err)
		rec.Status = RunError
		rec.Error = err.Error()
		if s.metrics != nil {
			s.metrics.Inc(telemetry.MetricSegmentErrors)
		}
	} else {
		out.Output = result.Output
		rec.Steps = result.Steps
		rec.DurationMS = float64(result.Duration.Microseconds()) / 1000.0
	}
	ws.records.append(rec)
	return out
}

// Deps reports the parameters each dynamic segment reads, with the
// derived-value closure expanded, plus the union over the document.
func (s *Service) Deps(ctx context.Context, id uuid.UUID) (*DepsReport, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	cat := s.catalog()
	report := &DepsReport{WorksheetID: ws.ID}
	union := map[string]bool{}
	for _, seg := range ws.segments {
		if seg.Kind != notes.SegmentDynamic {
			continue
		}
		direct := script.ExtractDirect(seg.Content, cat.IsDerived, cat.Canonicalize)
		transitive := cat.Expand(direct)
		for _, k := range transitive {
			union[k] = true
		}
		report.Segments = append(report.Segments, SegmentDeps{
			SegmentID:  seg.ID,
			Direct:     direct,
			Transitive: transitive,
		})
	}
	report.Union = make([]string, 0, len(union))
	for k := range union {
		report.Union = append(report.Union, k)
	}
	sort.Strings(report.Union)
	return report, nil
}

// LoadTestCase applies a named test case attached to a dynamic segment
// through the unattended path, exactly as a batch load would.
func (s *Service) LoadTestCase(ctx context.Context, id uuid.UUID, segmentID, name, userID string) (*SetResult, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	seg, ok := findSegment(ws.segments, segmentID)
	if !ok {
		return nil, ErrSegmentNotFound
	}
	for _, tc := range seg.TestCases {
		if tc.Name == name {
			return s.applyBatch(ctx, ws, tc.Values, userID), nil
		}
	}
	return nil, ErrTestCaseNotFound
}

// Events returns the session's validation event log, oldest first.
func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]*ranges.ValidationEvent, error) {
	ws, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]*ranges.ValidationEvent(nil), ws.events...), nil
}

// ClearEvents empties the session event log. The durable audit trail in
// the ranges domain is unaffected.
func (s *Service) ClearEvents(ctx context.Context, id uuid.UUID) error {
	ws, ok := s.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.events = nil
	return nil
}

// recordEvent stamps the event with the session identity, appends it to
// the session log, counts it, persists it, and pushes firm/hard alerts
// to subscribers. The durable write is best effort; the session log is
// the authoritative in-session record. Caller holds ws.mu.
func (s *Service) recordEvent(ctx context.Context, ws *Worksheet, ev *ranges.ValidationEvent, userID string) {
	ev.SessionID = ws.ID.String()
	ev.UserID = userID
	ws.events = append(ws.events, ev)

	if s.metrics != nil {
		s.metrics.IncLabeled(telemetry.MetricValidationEvents, ev.Severity)
	}
	_ = s.ranges.RecordEvent(ctx, ev)

	if s.hub != nil && (ev.Severity == ranges.SeverityHard || ev.Severity == ranges.SeverityFirm) {
		s.hub.Publish(ctx, websocket.NewEvent(websocket.EventValidationAlert,
			websocket.TopicAlerts, ev.SessionID, ev))
		s.hub.Publish(ctx, websocket.NewEvent(websocket.EventValidationAlert,
			websocket.WorksheetTopic(ev.SessionID), ev.SessionID, ev))
	}
}

func setWarning(ws *Worksheet, key string, warned bool) {
	if warned {
		ws.warnings[key] = true
	} else {
		delete(ws.warnings, key)
	}
}

func findSegment(segs []notes.Segment, id string) (notes.Segment, bool) {
	for _, seg := range segs {
		if seg.ID == id {
			return seg, true
		}
	}
	return notes.Segment{}, false
}

func stateLocked(ws *Worksheet) *State {
	warnings := make([]string, 0, len(ws.warnings))
	for k, on := range ws.warnings {
		if on {
			warnings = append(warnings, k)
		}
	}
	sort.Strings(warnings)

	segs := make([]notes.Segment, len(ws.segments))
	copy(segs, ws.segments)

	return &State{
		ID:           ws.ID,
		NoteID:       ws.NoteID,
		Title:        ws.Title,
		OpenedBy:     ws.OpenedBy,
		OpenedAt:     ws.OpenedAt,
		LastAccess:   ws.LastAccess(),
		SegmentCount: len(ws.segments),
		Segments:     segs,
		Values:       ws.store.Values(),
		Warnings:     warnings,
		EventCount:   len(ws.events),
		RecentRuns:   ws.records.list(),
	}
}
