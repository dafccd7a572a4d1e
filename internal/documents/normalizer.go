package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseload/api/internal/activity"
	"caseload/api/internal/fields"
	"caseload/api/internal/ownership"
	"caseload/api/internal/store"

	"go.uber.org/zap"
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrNoWritableSchema     = errors.New("no writable schema")
	ErrDocumentNotFound     = errors.New("document not found")
)

// MissingFieldError names the required canonical field that resolved empty.
type MissingFieldError struct {
	Category Category
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s is required", e.Category, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingRequiredField
}

var titleKeys = []string{"title", "form_title", "formTitle", "document_title"}

// reservedKeys are transport and bookkeeping keys kept out of document metadata.
var reservedKeys = map[string]struct{}{
	"action": {}, "id": {}, "document_id": {}, "documentId": {}, "student_id": {}, "studentId": {},
	"category": {}, "form_type": {}, "formType": {}, "table": {}, "user_id": {}, "owner_id": {},
	"therapist_id": {}, "created_at": {}, "updated_at": {},
	"title": {}, "form_title": {}, "formTitle": {}, "document_title": {},
}

type SaveInput struct {
	Category   Category
	StudentID  int64
	DocumentID int64
	// Table pins an edit to the table a loaded Record came from. Only the
	// catch-all table is meaningful here; anything else means the primary table.
	Table string
	Raw   map[string]any
}

type SaveResult struct {
	ID       int64  `json:"id"`
	Table    string `json:"table"`
	Created  bool   `json:"created"`
	Fallback bool   `json:"fallback"`
}

// Normalizer saves and loads documents across drifting table layouts.
type Normalizer struct {
	store    *store.Store
	schema   *store.SchemaRegistry
	writer   *store.Writer
	scoper   *ownership.Scoper
	recorder *activity.Recorder
	log      *zap.Logger
	now      func() time.Time
}

func NewNormalizer(s *store.Store, schema *store.SchemaRegistry, writer *store.Writer, scoper *ownership.Scoper, recorder *activity.Recorder, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		store:    s,
		schema:   schema,
		writer:   writer,
		scoper:   scoper,
		recorder: recorder,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save inserts a document, or edits one when DocumentID is set.
func (n *Normalizer) Save(ctx context.Context, p ownership.Principal, in SaveInput) (SaveResult, error) {
	if err := n.scoper.Require(ctx, p, in.StudentID); err != nil {
		return SaveResult{}, err
	}
	def := in.Category.Definition()
	editing := in.DocumentID != 0

	// An edit only touches the fields the request mentions.
	canonical := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		if editing && !mentioned(in.Raw, f.WriteOrder()) {
			continue
		}
		value := resolve(in.Raw, f.WriteOrder())
		if f.Required && value == "" {
			return SaveResult{}, &MissingFieldError{Category: in.Category, Field: f.Canonical}
		}
		canonical[f.Canonical] = value
	}

	table, fallback, err := n.target(ctx, def, in.Table)
	if err != nil {
		return SaveResult{}, err
	}

	var result SaveResult
	if editing {
		result, err = n.edit(ctx, p, in, table, canonical)
	} else {
		result, err = n.create(ctx, p, in, table, canonical)
		if !fallback && isSchemaError(err) {
			n.log.Warn("document falls back to catch-all",
				zap.String("category", def.Name),
				zap.String("table", table),
				zap.Error(err),
			)
			result, err = n.create(ctx, p, in, store.CatchAllTable, canonical)
		}
	}
	if err != nil {
		return SaveResult{}, err
	}

	verb := activity.VerbUpdated
	if result.Created {
		verb = activity.VerbCreated
	}
	if n.recorder != nil {
		_ = n.recorder.Record(ctx, p, activity.Type(def.Name, verb), in.StudentID, "", map[string]any{
			"document_id": result.ID,
			"table":       result.Table,
		})
	}
	return result, nil
}

// target picks the primary table when it can hold the category's content and
// be read back per student, and the catch-all otherwise.
func (n *Normalizer) target(ctx context.Context, def Definition, hint string) (string, bool, error) {
	if hint == store.CatchAllTable {
		return store.CatchAllTable, true, nil
	}
	cols, err := n.schema.Columns(ctx, def.Table)
	if err != nil {
		return "", false, err
	}
	var reason string
	switch {
	case len(cols) == 0:
		reason = "table missing"
	case !cols.Has("student_id"):
		reason = "no student_id column"
	case !contentColumns(def, cols):
		reason = "no content columns"
	}
	if reason != "" {
		n.log.Warn("document falls back to catch-all",
			zap.String("category", def.Name),
			zap.String("table", def.Table),
			zap.String("reason", reason),
		)
		return store.CatchAllTable, true, nil
	}
	return def.Table, false, nil
}

func isSchemaError(err error) bool {
	return errors.Is(err, store.ErrTableNotFound) || errors.Is(err, store.ErrNoCompatibleColumns)
}

func (n *Normalizer) create(ctx context.Context, p ownership.Principal, in SaveInput, table string, canonical map[string]string) (SaveResult, error) {
	candidate, err := n.candidate(p, in, table, canonical)
	if err != nil {
		return SaveResult{}, err
	}
	now := n.now()
	candidate["created_at"] = now
	candidate["updated_at"] = now

	id, err := n.writer.Insert(ctx, table, candidate)
	if err != nil {
		if table == store.CatchAllTable {
			return SaveResult{}, fmt.Errorf("%w: %w", ErrNoWritableSchema, err)
		}
		return SaveResult{}, err
	}
	return SaveResult{ID: id, Table: table, Created: true, Fallback: table == store.CatchAllTable}, nil
}

func (n *Normalizer) edit(ctx context.Context, p ownership.Principal, in SaveInput, table string, canonical map[string]string) (SaveResult, error) {
	stored, err := n.locate(ctx, in.Category, table, in.DocumentID)
	if err != nil {
		return SaveResult{}, err
	}
	studentID, _ := fields.Int64(stored["student_id"])
	if err := n.scoper.Require(ctx, p, studentID); err != nil {
		return SaveResult{}, err
	}
	candidate, err := editCandidate(in, table, canonical, stored)
	if err != nil {
		return SaveResult{}, err
	}
	candidate["updated_at"] = n.now()

	ok, err := n.writer.Update(ctx, table, in.DocumentID, candidate)
	if err != nil {
		if table == store.CatchAllTable && isSchemaError(err) {
			return SaveResult{}, fmt.Errorf("%w: %w", ErrNoWritableSchema, err)
		}
		return SaveResult{}, err
	}
	if !ok {
		return SaveResult{}, fmt.Errorf("%s %d: %w", table, in.DocumentID, ErrDocumentNotFound)
	}
	return SaveResult{ID: in.DocumentID, Table: table, Fallback: table == store.CatchAllTable}, nil
}

// candidate builds the insert map. The catch-all keeps the raw payload verbatim;
// primary tables get each canonical value under every column variant. Empty
// values are left out so column defaults apply.
func (n *Normalizer) candidate(p ownership.Principal, in SaveInput, table string, canonical map[string]string) (store.Candidate, error) {
	def := in.Category.Definition()
	title := resolve(in.Raw, titleKeys)
	if title == "" {
		title = def.DefaultTitle
	}
	therapist := any(p.UserID)
	if id, ok := fields.PickInt64(in.Raw, "therapist_id", "therapistId"); ok {
		therapist = id
	}

	c := store.Candidate{
		"student_id":   in.StudentID,
		"title":        title,
		"form_type":    def.Name,
		"therapist_id": therapist,
	}
	c.Set(p.UserID, "user_id", "owner_id")

	if table == store.CatchAllTable {
		raw := in.Raw
		if raw == nil {
			raw = map[string]any{}
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode document payload: %w", err)
		}
		c["form_data"] = string(payload)
		return c, nil
	}

	for _, f := range def.Fields {
		if s := canonical[f.Canonical]; s != "" {
			c.Set(s, f.ColumnNames()...)
		}
	}

	payload, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("encode document fields: %w", err)
	}
	c["form_data"] = string(payload)

	if extra := metadata(def, in.Raw); len(extra) > 0 {
		encoded, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("encode document metadata: %w", err)
		}
		c["metadata"] = string(encoded)
	}
	return c, nil
}

// editCandidate builds the update map for a stored row. Only mentioned fields
// are written; they are merged into the stored form_data and metadata so
// everything else keeps its value. An explicitly emptied field is cleared.
func editCandidate(in SaveInput, table string, canonical map[string]string, stored store.Row) (store.Candidate, error) {
	def := in.Category.Definition()
	c := store.Candidate{}
	if title := resolve(in.Raw, titleKeys); title != "" {
		c["title"] = title
	}
	if id, ok := fields.PickInt64(in.Raw, "therapist_id", "therapistId"); ok {
		c["therapist_id"] = id
	}

	payload := decodePayload(stored["form_data"])
	if payload == nil {
		payload = map[string]any{}
	}
	if table == store.CatchAllTable {
		for key, value := range metadata(def, in.Raw) {
			payload[key] = value
		}
	} else if extra := metadata(def, in.Raw); len(extra) > 0 {
		merged := decodePayload(stored["metadata"])
		if merged == nil {
			merged = map[string]any{}
		}
		for key, value := range extra {
			merged[key] = value
		}
		encoded, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("encode document metadata: %w", err)
		}
		c["metadata"] = string(encoded)
	}

	for _, f := range def.Fields {
		value, ok := canonical[f.Canonical]
		if !ok {
			continue
		}
		// Drop stale spellings so the canonical key is the only one left.
		for _, key := range f.WriteOrder() {
			delete(payload, key)
		}
		for _, key := range f.ColumnNames() {
			delete(payload, key)
		}
		payload[f.Canonical] = value
		if table != store.CatchAllTable {
			var column any
			if value != "" {
				column = value
			}
			c.Set(column, f.ColumnNames()...)
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode document payload: %w", err)
	}
	c["form_data"] = string(encoded)
	return c, nil
}

// mentioned reports whether the request carries any of keys, empty or not.
func mentioned(source map[string]any, keys []string) bool {
	for _, key := range keys {
		if _, ok := source[key]; ok {
			return true
		}
	}
	return false
}

// metadata collects raw keys that are neither bookkeeping nor a known field variant.
func metadata(def Definition, raw map[string]any) map[string]any {
	known := make(map[string]struct{})
	for _, f := range def.Fields {
		for _, key := range f.WriteOrder() {
			known[key] = struct{}{}
		}
		for _, key := range f.ColumnNames() {
			known[key] = struct{}{}
		}
	}
	out := make(map[string]any)
	for key, value := range raw {
		if _, ok := reservedKeys[key]; ok {
			continue
		}
		if _, ok := known[key]; ok {
			continue
		}
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

// locate returns the bookkeeping columns of a stored document.
func (n *Normalizer) locate(ctx context.Context, c Category, table string, id int64) (store.Row, error) {
	cols, err := n.schema.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if !cols.Has("id") || !cols.Has("student_id") {
		return nil, fmt.Errorf("%s %d: %w", table, id, ErrDocumentNotFound)
	}
	rows, err := n.store.Select(ctx, store.SelectQuery{
		Table:   table,
		Columns: cols.Filter("id", "student_id", "form_type", "form_data", "metadata"),
		Where:   store.Where(`"id" = ?`, id),
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("locate document: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %d: %w", table, id, ErrDocumentNotFound)
	}
	row := rows[0]
	if table == store.CatchAllTable && cols.Has("form_type") && categoryOrOther(fields.String(row["form_type"])) != c {
		return nil, fmt.Errorf("%s %d: %w", table, id, ErrDocumentNotFound)
	}
	return row, nil
}

// Delete removes a document after checking its student belongs to p. Without a
// table hint the primary table is tried before the catch-all.
func (n *Normalizer) Delete(ctx context.Context, p ownership.Principal, c Category, id int64, table string) (string, error) {
	def := c.Definition()
	tables := []string{def.Table, store.CatchAllTable}
	if table == store.CatchAllTable {
		tables = tables[1:]
	}

	for _, t := range tables {
		row, err := n.locate(ctx, c, t, id)
		if errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		studentID, _ := fields.Int64(row["student_id"])
		if err := n.scoper.Require(ctx, p, studentID); err != nil {
			return "", err
		}
		ok, err := n.writer.Delete(ctx, t, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%s %d: %w", t, id, ErrDocumentNotFound)
		}
		if n.recorder != nil {
			_ = n.recorder.Record(ctx, p, activity.Type(def.Name, activity.VerbDeleted), studentID, "", map[string]any{
				"document_id": id,
				"table":       t,
			})
		}
		return t, nil
	}
	return "", fmt.Errorf("%s %d: %w", def.Name, id, ErrDocumentNotFound)
}

// Load returns every document of the student, categories in display order and
// newest first within each.
func (n *Normalizer) Load(ctx context.Context, p ownership.Principal, studentID int64) ([]Record, error) {
	grouped, err := n.load(ctx, p, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for _, c := range AllCategories() {
		out = append(out, grouped[c]...)
	}
	return out, nil
}

// LoadGrouped is Load keyed by category name. Every category has an entry.
func (n *Normalizer) LoadGrouped(ctx context.Context, p ownership.Principal, studentID int64) (map[string][]Record, error) {
	grouped, err := n.load(ctx, p, studentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Record, len(grouped))
	for _, c := range AllCategories() {
		records := grouped[c]
		if records == nil {
			records = []Record{}
		}
		out[c.String()] = records
	}
	return out, nil
}

func (n *Normalizer) load(ctx context.Context, p ownership.Principal, studentID int64) (map[Category][]Record, error) {
	if err := n.scoper.Require(ctx, p, studentID); err != nil {
		return nil, err
	}
	scope, err := n.scoper.StudentSubquery(ctx, p, true)
	if err != nil {
		return nil, err
	}
	where := store.Where(`"student_id" = ?`, studentID).And(scope)

	grouped := make(map[Category][]Record)
	for _, c := range AllCategories() {
		def := c.Definition()
		rows, err := n.rows(ctx, def.Table, readColumns(def), where)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			grouped[c] = append(grouped[c], toRecord(c, def.Table, row))
		}
	}

	var catchAll []string
	for _, c := range AllCategories() {
		catchAll = append(catchAll, readColumns(c.Definition())...)
	}
	rows, err := n.rows(ctx, store.CatchAllTable, catchAll, where)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		c := categoryOrOther(fields.String(row["form_type"]))
		grouped[c] = append(grouped[c], toRecord(c, store.CatchAllTable, row))
	}

	for c := range grouped {
		sortNewestFirst(grouped[c])
	}
	return grouped, nil
}

// rows selects the wanted columns that exist. Tables without a student_id
// column cannot be scoped and contribute nothing.
func (n *Normalizer) rows(ctx context.Context, table string, wanted []string, where store.Clause) ([]store.Row, error) {
	cols, err := n.schema.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if !cols.Has("student_id") {
		return nil, nil
	}
	var order []store.Order
	if cols.Has("created_at") {
		order = append(order, store.Order{Column: "created_at", Desc: true})
	}
	if cols.Has("id") {
		order = append(order, store.Order{Column: "id", Desc: true})
	}
	rows, err := n.store.Select(ctx, store.SelectQuery{
		Table:   table,
		Columns: cols.Filter(wanted...),
		Where:   where,
		OrderBy: order,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return rows, nil
}
