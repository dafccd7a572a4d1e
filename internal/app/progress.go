package app

import (
	"context"

	"caseload/api/internal/activity"
	"caseload/api/internal/fields"
	"caseload/api/internal/ownership"
	"caseload/api/internal/store"
)

const progressSkillsTable = "progress_skills"

var skillFields = []fields.Variants{
	{Canonical: "skill_name", Columns: []string{"skill", "name"}, Inputs: []string{"skillName", "skill", "name"}},
	{Canonical: "current_level", Columns: []string{"level", "current"}, Inputs: []string{"currentLevel", "level"}},
	{Canonical: "target_level", Columns: []string{"target"}, Inputs: []string{"targetLevel", "target"}},
	{Canonical: "notes", Columns: []string{"comments"}, Inputs: []string{"skillNotes"}},
}

func skillCandidate(in Input, partial bool) store.Candidate {
	candidate := store.Candidate{}
	for _, v := range skillFields {
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
	if goalID, ok := fields.PickInt64(in, "goal_id", "goalId"); ok && goalID > 0 {
		candidate["goal_id"] = goalID
	}
	return candidate
}

func skillView(row store.Row) map[string]any {
	out := map[string]any{}
	out["id"], _ = fields.Int64(row["id"])
	out["student_id"], _ = fields.Int64(row["student_id"])
	if goalID, ok := fields.Int64(row["goal_id"]); ok {
		out["goal_id"] = goalID
	} else {
		out["goal_id"] = nil
	}
	for _, v := range skillFields {
		value, _ := fields.PickString(row, v.ReadOrder()...)
		out[v.Canonical] = value
	}
	for _, key := range []string{"created_at", "updated_at"} {
		if at, ok := fields.Time(row[key]); ok {
			out[key] = at
		}
	}
	return out
}

// ownedRow returns the student of a student-scoped row after checking p owns it.
func (s *Service) ownedRow(ctx context.Context, p ownership.Principal, table string, id int64) (int64, error) {
	if id <= 0 {
		return 0, missingField("id")
	}
	rows, err := s.store.Select(ctx, store.SelectQuery{
		Table:   table,
		Columns: []string{"id", "student_id"},
		Where:   store.Where(`"id" = ?`, id),
		Limit:   1,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, notFound("record")
	}
	studentID, _ := fields.Int64(rows[0]["student_id"])
	if err := s.scoper.Require(ctx, p, studentID); err != nil {
		return 0, err
	}
	return studentID, nil
}

func (s *Service) addProgressSkill(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	studentID := in.Int64("student_id", "studentId")
	if err := s.scoper.Require(ctx, p, studentID); err != nil {
		return nil, err
	}
	candidate := skillCandidate(in, false)
	if fields.String(candidate["skill_name"]) == "" {
		return nil, missingField("skill_name")
	}
	now := s.now()
	candidate["student_id"] = studentID
	candidate["user_id"] = p.UserID
	candidate["created_at"] = now
	candidate["updated_at"] = now

	id, err := s.writer.Insert(ctx, progressSkillsTable, candidate)
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, activity.SubjectProgressSkill, activity.VerbCreated, studentID, map[string]any{"skill_id": id})
	return map[string]any{"skill_id": id, "message": "Progress skill added"}, nil
}

func (s *Service) updateProgressSkill(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("skill_id", "skillId", "id")
	studentID, err := s.ownedRow(ctx, p, progressSkillsTable, id)
	if err != nil {
		return nil, err
	}
	candidate := skillCandidate(in, true)
	if _, present := fields.Pick(in, skillFields[0].WriteOrder()...); present && fields.String(candidate["skill_name"]) == "" {
		return nil, missingField("skill_name")
	}
	candidate["updated_at"] = s.now()

	ok, err := s.writer.Update(ctx, progressSkillsTable, id, candidate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("progress skill")
	}
	s.record(ctx, p, activity.SubjectProgressSkill, activity.VerbUpdated, studentID, map[string]any{"skill_id": id})
	return map[string]any{"skill_id": id, "message": "Progress skill updated"}, nil
}

func (s *Service) getProgressSkills(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	studentID := in.Int64("student_id", "studentId")
	if err := s.scoper.Require(ctx, p, studentID); err != nil {
		return nil, err
	}
	cols, err := s.schema.Columns(ctx, progressSkillsTable)
	if err != nil {
		return nil, err
	}
	skills := make([]map[string]any, 0)
	if !cols.Has("student_id") {
		return map[string]any{"skills": skills}, nil
	}
	scope, err := s.scoper.StudentSubquery(ctx, p, true)
	if err != nil {
		return nil, err
	}
	var order []store.Order
	for _, column := range cols.Filter("created_at", "id") {
		order = append(order, store.Order{Column: column, Desc: true})
	}
	rows, err := s.store.Select(ctx, store.SelectQuery{
		Table:   progressSkillsTable,
		Columns: cols.Sorted(),
		Where:   store.Where(`"student_id" = ?`, studentID).And(scope),
		OrderBy: order,
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		skills = append(skills, skillView(row))
	}
	return map[string]any{"skills": skills}, nil
}

func (s *Service) deleteProgressSkill(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("skill_id", "skillId", "id")
	studentID, err := s.ownedRow(ctx, p, progressSkillsTable, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.writer.Delete(ctx, progressSkillsTable, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("progress skill")
	}
	s.record(ctx, p, activity.SubjectProgressSkill, activity.VerbDeleted, studentID, map[string]any{"skill_id": id})
	return map[string]any{"skill_id": id, "message": "Progress skill deleted"}, nil
}
