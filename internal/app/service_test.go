package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"caseload/api/internal/activity"
	"caseload/api/internal/config"
	"caseload/api/internal/documents"
	"caseload/api/internal/ownership"
	"caseload/api/internal/session"
	"caseload/api/internal/store"
	"caseload/api/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s := testutil.NewMigratedStore(t)
	sessions := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })
	cfg := config.Config{ActivityCap: 10, SessionTTL: time.Hour}
	return New(cfg, s, sessions, nil), s
}

func login(t *testing.T, svc *Service, name string) Session {
	t.Helper()
	sess, err := svc.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return sess
}

func assertStatus(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	gotStatus, gotCode, _, _ := mapError(err)
	if gotStatus != status || gotCode != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, gotStatus, gotCode, err)
	}
}

func TestLoginReusesUserByName(t *testing.T) {
	svc, _ := newTestService(t)

	first := login(t, svc, "  Avery ")
	second := login(t, svc, "Avery")

	if first.UserID == 0 || first.UserID != second.UserID {
		t.Fatalf("expected the same user id, got %d and %d", first.UserID, second.UserID)
	}
	if first.UserName != "Avery" {
		t.Fatalf("expected trimmed user name, got %q", first.UserName)
	}
	if first.Token == second.Token {
		t.Fatalf("expected a fresh token per login")
	}

	got, err := svc.SessionFromToken(context.Background(), first.Token)
	if err != nil {
		t.Fatalf("lookup session: %v", err)
	}
	if got.UserID != first.UserID {
		t.Fatalf("expected user %d, got %d", first.UserID, got.UserID)
	}
}

func TestLoginRequiresName(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "   ")
	assertStatus(t, err, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD")
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := login(t, svc, "Avery")

	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := svc.SessionFromToken(ctx, sess.Token)
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after logout, got %v", err)
	}
}

func TestDispatchRejectsUnknownAndEmptyActions(t *testing.T) {
	svc, _ := newTestService(t)
	p := login(t, svc, "Avery").Principal()

	_, err := svc.Dispatch(context.Background(), p, "launch_rockets", Input{})
	assertStatus(t, err, http.StatusBadRequest, "UNKNOWN_ACTION")

	_, err = svc.Dispatch(context.Background(), p, " ", Input{})
	assertStatus(t, err, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD")
}

func TestStudentsAreScopedToTheirOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	avery := login(t, svc, "Avery").Principal()
	blake := login(t, svc, "Blake").Principal()

	created, err := svc.Dispatch(ctx, avery, "add_student", Input{"firstName": "Ada", "lastName": "Lovelace", "grade": "3"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	studentID, _ := created["student_id"].(int64)
	if studentID == 0 {
		t.Fatalf("expected student id, got %v", created["student_id"])
	}

	mine, err := svc.Dispatch(ctx, avery, "get_students", Input{})
	if err != nil {
		t.Fatalf("get students: %v", err)
	}
	students := mine["students"].([]map[string]any)
	if len(students) != 1 || students[0]["name"] != "Ada Lovelace" || students[0]["grade"] != "3" {
		t.Fatalf("unexpected students: %+v", students)
	}

	theirs, err := svc.Dispatch(ctx, blake, "get_students", Input{})
	if err != nil {
		t.Fatalf("get students: %v", err)
	}
	if got := theirs["students"].([]map[string]any); len(got) != 0 {
		t.Fatalf("expected no students for another user, got %+v", got)
	}

	_, err = svc.Dispatch(ctx, blake, "get_student", Input{"student_id": studentID})
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = svc.Dispatch(ctx, blake, "update_student", Input{"student_id": studentID, "first_name": "Eve"})
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestAddStudentRequiresFirstName(t *testing.T) {
	svc, _ := newTestService(t)
	p := login(t, svc, "Avery").Principal()

	_, err := svc.Dispatch(context.Background(), p, "add_student", Input{"last_name": "Lovelace"})
	assertStatus(t, err, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD")
}

func TestUpdateStudentKeepsUnmentionedFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()

	created, err := svc.Dispatch(ctx, p, "add_student", Input{"first_name": "Ada", "school": "Northside"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	id := created["student_id"].(int64)

	if _, err := svc.Dispatch(ctx, p, "update_student", Input{"id": id, "grade": "4"}); err != nil {
		t.Fatalf("update student: %v", err)
	}
	got, err := svc.Dispatch(ctx, p, "get_student", Input{"id": id})
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	student := got["student"].(map[string]any)
	if student["grade"] != "4" || student["school"] != "Northside" || student["first_name"] != "Ada" {
		t.Fatalf("unexpected student after partial update: %+v", student)
	}
}

func TestArchivedStudentsAreHiddenByDefault(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()

	created, err := svc.Dispatch(ctx, p, "add_student", Input{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	id := created["student_id"].(int64)

	archived, err := svc.Dispatch(ctx, p, "archive_student", Input{"student_id": id})
	if err != nil {
		t.Fatalf("archive student: %v", err)
	}
	if archived["archived"] != true {
		t.Fatalf("expected soft archive, got %+v", archived)
	}

	active, err := svc.Dispatch(ctx, p, "get_students", Input{})
	if err != nil {
		t.Fatalf("get students: %v", err)
	}
	if got := active["students"].([]map[string]any); len(got) != 0 {
		t.Fatalf("expected archived student to be hidden, got %+v", got)
	}
	all, err := svc.Dispatch(ctx, p, "get_students", Input{"include_archived": "1"})
	if err != nil {
		t.Fatalf("get students: %v", err)
	}
	if got := all["students"].([]map[string]any); len(got) != 1 || got[0]["archived"] != true {
		t.Fatalf("expected archived student with include_archived, got %+v", got)
	}
}

func TestSaveDocumentAndLoadForms(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()

	created, err := svc.Dispatch(ctx, p, "add_student", Input{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	id := created["student_id"].(int64)

	saved, err := svc.Dispatch(ctx, p, "save_document", Input{
		"form_type":       "discharge",
		"student_id":      float64(id),
		"dischargeReason": "Goals met",
	})
	if err != nil {
		t.Fatalf("save document: %v", err)
	}
	if saved["table"] != "discharge_reports" || saved["created"] != true {
		t.Fatalf("unexpected save result: %+v", saved)
	}

	if _, err := svc.Dispatch(ctx, p, "add_goal", Input{"student_id": id, "goal": "Produce /r/ in words"}); err != nil {
		t.Fatalf("add goal: %v", err)
	}

	forms, err := svc.Dispatch(ctx, p, "get_student_forms", Input{"student_id": id})
	if err != nil {
		t.Fatalf("get forms: %v", err)
	}
	grouped := forms["forms"].(map[string][]documents.Record)
	if len(grouped["discharge"]) != 1 || grouped["discharge"][0].Fields["discharge_reason"] != "Goals met" {
		t.Fatalf("unexpected discharge forms: %+v", grouped["discharge"])
	}
	if len(grouped["goal"]) != 1 || grouped["goal"][0].Fields["description"] != "Produce /r/ in words" {
		t.Fatalf("unexpected goals: %+v", grouped["goal"])
	}
	if _, ok := grouped["evaluation"]; !ok {
		t.Fatalf("expected every category key, got %v", grouped)
	}
}

func TestSaveDocumentValidatesCategory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()

	_, err := svc.Dispatch(ctx, p, "save_document", Input{"student_id": 1})
	assertStatus(t, err, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD")

	_, err = svc.Dispatch(ctx, p, "save_document", Input{"student_id": 1, "form_type": "horoscope"})
	assertStatus(t, err, http.StatusBadRequest, "INVALID_CATEGORY")
}

func TestSaveGoalWithoutDescriptionIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()

	created, err := svc.Dispatch(ctx, p, "add_student", Input{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	_, err = svc.Dispatch(ctx, p, "add_goal", Input{"student_id": created["student_id"]})
	assertStatus(t, err, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD")

	_, _, _, details := mapError(err)
	if details.(map[string]any)["field"] != "description" {
		t.Fatalf("expected description field detail, got %v", details)
	}
}

func TestRecentActivityShowsOwnEventsOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	avery := login(t, svc, "Avery").Principal()
	blake := login(t, svc, "Blake").Principal()

	created, err := svc.Dispatch(ctx, avery, "add_student", Input{"first_name": "Ada", "last_name": "Lovelace"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	id := created["student_id"].(int64)

	feed, err := svc.Dispatch(ctx, avery, "get_recent_activity", Input{})
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	events := feed["activities"].([]activity.Event)
	found := false
	for _, ev := range events {
		if ev.Type == "student_created" && ev.StudentID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected student_created for %d, got %+v", id, events)
	}

	other, err := svc.Dispatch(ctx, blake, "get_recent_activity", Input{})
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	if got := other["activities"].([]activity.Event); len(got) != 0 {
		t.Fatalf("expected empty feed for another user, got %+v", got)
	}
}

func TestProgressSkillLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	avery := login(t, svc, "Avery").Principal()
	blake := login(t, svc, "Blake").Principal()

	created, err := svc.Dispatch(ctx, avery, "add_student", Input{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	studentID := created["student_id"].(int64)

	added, err := svc.Dispatch(ctx, avery, "add_progress_skill", Input{"student_id": studentID, "skillName": "Initial /s/", "currentLevel": "40%"})
	if err != nil {
		t.Fatalf("add skill: %v", err)
	}
	skillID := added["skill_id"].(int64)

	_, err = svc.Dispatch(ctx, blake, "update_progress_skill", Input{"skill_id": skillID, "current_level": "90%"})
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")

	if _, err := svc.Dispatch(ctx, avery, "update_progress_skill", Input{"skill_id": skillID, "current_level": "60%"}); err != nil {
		t.Fatalf("update skill: %v", err)
	}
	listed, err := svc.Dispatch(ctx, avery, "get_progress_skills", Input{"student_id": studentID})
	if err != nil {
		t.Fatalf("get skills: %v", err)
	}
	skills := listed["skills"].([]map[string]any)
	if len(skills) != 1 || skills[0]["skill_name"] != "Initial /s/" || skills[0]["current_level"] != "60%" {
		t.Fatalf("unexpected skills: %+v", skills)
	}

	if _, err := svc.Dispatch(ctx, avery, "delete_progress_skill", Input{"skill_id": skillID}); err != nil {
		t.Fatalf("delete skill: %v", err)
	}
	_, err = svc.Dispatch(ctx, avery, "delete_progress_skill", Input{"skill_id": skillID})
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestClaimOrphansAssignsUnownedStudents(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := login(t, svc, "Avery").Principal()
	orphan := testutil.InsertStudent(t, s, "Orphan", 0)

	n, err := svc.ClaimOrphans(ctx, p.UserID)
	if err != nil {
		t.Fatalf("claim orphans: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one claimed student, got %d", n)
	}
	if err := svc.scoper.Require(ctx, p, orphan); err != nil {
		t.Fatalf("expected claimed student to be owned: %v", err)
	}
	forbidden := ownership.Principal{UserID: p.UserID + 100, Name: "stranger"}
	if err := svc.scoper.Require(ctx, forbidden, orphan); !errors.Is(err, ownership.ErrForbidden) {
		t.Fatalf("expected forbidden for another user, got %v", err)
	}
}
