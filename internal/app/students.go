package app

import (
	"context"

	"caseload/api/internal/activity"
	"caseload/api/internal/fields"
	"caseload/api/internal/ownership"
	"caseload/api/internal/store"
)

var studentFields = []fields.Variants{
	{Canonical: "first_name", Columns: []string{"firstname"}, Inputs: []string{"firstName", "first"}},
	{Canonical: "last_name", Columns: []string{"lastname"}, Inputs: []string{"lastName", "last"}},
	{Canonical: "grade", Columns: []string{"grade_level"}, Inputs: []string{"gradeLevel", "grade_level"}},
	{Canonical: "date_of_birth", Columns: []string{"dob", "birthdate"}, Inputs: []string{"dateOfBirth", "dob", "birthdate"}},
	{Canonical: "school", Columns: []string{"school_name"}, Inputs: []string{"schoolName"}},
	{Canonical: "teacher", Columns: []string{"teacher_name", "classroom_teacher"}, Inputs: []string{"teacherName"}},
	{Canonical: "service_frequency", Columns: []string{"frequency"}, Inputs: []string{"serviceFrequency", "frequency"}},
	{Canonical: "notes", Columns: []string{"comments"}, Inputs: []string{"studentNotes"}},
}

// studentCandidate maps the student fields present in the input. With partial
// set, fields the input does not mention are left out so an update keeps them.
func studentCandidate(in Input, partial bool) store.Candidate {
	candidate := store.Candidate{}
	for _, v := range studentFields {
		raw, present := fields.Pick(in, v.WriteOrder()...)
		if !present && partial {
			continue
		}
		var value any
		if s := fields.String(raw); s != "" {
			value = s
		}
		candidate.Set(value, v.ColumnNames()...)
	}
	return candidate
}

func studentView(row store.Row) map[string]any {
	out := map[string]any{
		"name":     activity.StudentName(row),
		"archived": fields.Truthy(row["archived"]),
	}
	out["id"], _ = fields.Int64(row["id"])
	for _, v := range studentFields {
		value, _ := fields.PickString(row, v.ReadOrder()...)
		out[v.Canonical] = value
	}
	if owner, ok := fields.PickInt64(row, ownership.ColumnUserID, ownership.ColumnAssignedTherapist); ok {
		out["owner_id"] = owner
	} else {
		out["owner_id"] = nil
	}
	for _, key := range []string{"created_at", "updated_at"} {
		if at, ok := fields.Time(row[key]); ok {
			out[key] = at
		}
	}
	return out
}

func (s *Service) addStudent(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	if !p.Valid() {
		return nil, ownership.ErrForbidden
	}
	candidate := studentCandidate(in, false)
	if fields.String(candidate["first_name"]) == "" {
		return nil, missingField("first_name")
	}
	now := s.now()
	candidate["created_at"] = now
	candidate["updated_at"] = now
	s.scoper.Stamp(p, candidate)

	id, err := s.writer.Insert(ctx, ownership.StudentsTable, candidate)
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, activity.SubjectStudent, activity.VerbCreated, id, nil)
	return map[string]any{"student_id": id, "message": "Student added"}, nil
}

func (s *Service) updateStudent(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("student_id", "studentId", "id")
	if err := s.scoper.Require(ctx, p, id); err != nil {
		return nil, err
	}
	candidate := studentCandidate(in, true)
	if _, present := fields.Pick(in, studentFields[0].WriteOrder()...); present && fields.String(candidate["first_name"]) == "" {
		return nil, missingField("first_name")
	}
	candidate["updated_at"] = s.now()

	ok, err := s.writer.Update(ctx, ownership.StudentsTable, id, candidate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("student")
	}
	s.record(ctx, p, activity.SubjectStudent, activity.VerbUpdated, id, nil)
	return map[string]any{"student_id": id, "message": "Student updated"}, nil
}

func (s *Service) getStudents(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	cols, err := s.schema.Columns(ctx, ownership.StudentsTable)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return map[string]any{"students": []map[string]any{}}, nil
	}
	where := ownership.Filter(p, cols, s.scoper.Mode(), "")
	if !fields.Truthy(in["include_archived"]) {
		where = where.And(ownership.ActiveClause(cols))
	}
	var order []store.Order
	for _, column := range cols.Filter("last_name", "first_name", "id") {
		order = append(order, store.Order{Column: column})
	}

	rows, err := s.store.Select(ctx, store.SelectQuery{
		Table:   ownership.StudentsTable,
		Columns: cols.Sorted(),
		Where:   where,
		OrderBy: order,
	})
	if err != nil {
		return nil, err
	}
	students := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		students = append(students, studentView(row))
	}
	return map[string]any{"students": students}, nil
}

func (s *Service) getStudent(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("student_id", "studentId", "id")
	if err := s.scoper.Require(ctx, p, id); err != nil {
		return nil, err
	}
	cols, err := s.schema.Columns(ctx, ownership.StudentsTable)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Select(ctx, store.SelectQuery{
		Table:   ownership.StudentsTable,
		Columns: cols.Sorted(),
		Where:   store.Where(`"id" = ?`, id),
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("student")
	}
	return map[string]any{"student": studentView(rows[0])}, nil
}

// archiveStudent soft-deletes when the schema supports it and hard-deletes
// otherwise.
func (s *Service) archiveStudent(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("student_id", "studentId", "id")
	if err := s.scoper.Require(ctx, p, id); err != nil {
		return nil, err
	}
	cols, err := s.schema.Columns(ctx, ownership.StudentsTable)
	if err != nil {
		return nil, err
	}

	verb := activity.VerbArchived
	var ok bool
	switch {
	case cols.Has("archived"):
		ok, err = s.writer.Update(ctx, ownership.StudentsTable, id, store.Candidate{"archived": 1, "updated_at": s.now()})
	case cols.Has("deleted_at"):
		ok, err = s.writer.Update(ctx, ownership.StudentsTable, id, store.Candidate{"deleted_at": s.now(), "updated_at": s.now()})
	default:
		verb = activity.VerbDeleted
		ok, err = s.writer.Delete(ctx, ownership.StudentsTable, id)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("student")
	}
	s.record(ctx, p, activity.SubjectStudent, verb, id, nil)
	return map[string]any{"student_id": id, "archived": verb == activity.VerbArchived}, nil
}
