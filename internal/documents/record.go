package documents

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"caseload/api/internal/fields"
	"caseload/api/internal/store"
)

// Record is a document in canonical form, whichever table and columns held it.
type Record struct {
	ID          int64             `json:"id"`
	StudentID   int64             `json:"student_id"`
	Category    Category          `json:"category"`
	Title       string            `json:"title"`
	Fields      map[string]string `json:"fields"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	TherapistID *int64            `json:"therapist_id,omitempty"`
	OwnerID     *int64            `json:"owner_id,omitempty"`
	Table       string            `json:"table"`
}

var bookkeepingColumns = []string{
	"id", "student_id", "title", "form_type", "form_data",
	"therapist_id", "user_id", "owner_id", "created_at", "updated_at",
}

// readColumns lists every column a load may use for def, in a stable order.
func readColumns(def Definition) []string {
	out := append([]string(nil), bookkeepingColumns...)
	for _, f := range def.Fields {
		out = append(out, f.ColumnNames()...)
	}
	return out
}

// contentColumns reports whether cols can carry any document content for def.
func contentColumns(def Definition, cols store.ColumnSet) bool {
	if cols.Has("form_data") {
		return true
	}
	for _, f := range def.Fields {
		if cols.HasAny(f.ColumnNames()...) {
			return true
		}
	}
	return false
}

// decodePayload parses a form_data column. Anything other than a JSON object is
// treated as absent.
func decodePayload(value any) map[string]any {
	raw := strings.TrimSpace(fields.String(value))
	if raw == "" || raw[0] != '{' {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || len(payload) == 0 {
		return nil
	}
	return payload
}

// toRecord rebuilds a Record from a row. A form_data payload takes precedence;
// fields it lacks resolve from the column variants.
func toRecord(c Category, table string, row store.Row) Record {
	def := c.Definition()
	payload := decodePayload(row["form_data"])

	rec := Record{
		Category: c,
		Table:    table,
		Fields:   make(map[string]string, len(def.Fields)),
	}
	rec.ID, _ = fields.Int64(row["id"])
	rec.StudentID, _ = fields.Int64(row["student_id"])
	rec.CreatedAt, _ = fields.Time(row["created_at"])
	if updated, ok := fields.Time(row["updated_at"]); ok {
		rec.UpdatedAt = &updated
	}
	if id, ok := fields.Int64(row["therapist_id"]); ok {
		rec.TherapistID = &id
	}
	if id, ok := fields.PickInt64(row, "user_id", "owner_id"); ok {
		rec.OwnerID = &id
	}

	for _, f := range def.Fields {
		value := ""
		if payload != nil {
			value = resolve(payload, f.WriteOrder())
		}
		if value == "" {
			value = resolve(row, f.ReadOrder())
		}
		rec.Fields[f.Canonical] = value
	}

	rec.Title = strings.TrimSpace(fields.String(row["title"]))
	if rec.Title == "" && payload != nil {
		rec.Title = resolve(payload, titleKeys)
	}
	if rec.Title == "" {
		rec.Title = def.DefaultTitle
	}
	return rec
}

// resolve returns the first non-empty value among keys, trimmed.
func resolve(source map[string]any, keys []string) string {
	for _, key := range keys {
		value, ok := fields.Pick(source, key)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(fields.String(value)); s != "" {
			return s
		}
	}
	return ""
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID > b.ID
		}
		return a.Table < b.Table
	})
}
