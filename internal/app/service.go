package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"caseload/api/internal/activity"
	"caseload/api/internal/config"
	"caseload/api/internal/documents"
	"caseload/api/internal/fields"
	"caseload/api/internal/ownership"
	"caseload/api/internal/session"
	"caseload/api/internal/store"

	"go.uber.org/zap"
)

type Session struct {
	Token     string
	UserID    int64
	UserName  string
	ExpiresAt time.Time
}

func (s Session) Principal() ownership.Principal {
	return ownership.Principal{UserID: s.UserID, Name: s.UserName}
}

// Input is the flat field map of one action request.
type Input map[string]any

func (in Input) Int64(keys ...string) int64 {
	value, _ := fields.PickInt64(in, keys...)
	return value
}

func (in Input) Text(keys ...string) string {
	for _, key := range keys {
		if value, ok := fields.PickString(in, key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type actionFunc func(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error)

type Service struct {
	cfg        config.Config
	store      *store.Store
	schema     *store.SchemaRegistry
	writer     *store.Writer
	scoper     *ownership.Scoper
	recorder   *activity.Recorder
	reconciler *activity.Reconciler
	documents  *documents.Normalizer
	sessions   session.Store
	log        *zap.Logger
	now        func() time.Time
	actions    map[string]actionFunc
}

func New(cfg config.Config, dataStore *store.Store, sessions session.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := ownership.ModeLenient
	if cfg.StrictOwnership {
		mode = ownership.ModeStrict
	}
	activityCap := cfg.ActivityCap
	if activityCap < 1 {
		activityCap = activity.DefaultCap
	}

	schema := store.NewSchemaRegistry(dataStore)
	writer := store.NewWriter(dataStore, schema)
	scoper := ownership.NewScoper(dataStore, schema, mode)
	recorder := activity.NewRecorder(dataStore, schema, writer, activityCap, logger.Named("activity"))

	s := &Service{
		cfg:        cfg,
		store:      dataStore,
		schema:     schema,
		writer:     writer,
		scoper:     scoper,
		recorder:   recorder,
		reconciler: activity.NewReconciler(dataStore, schema, scoper, documents.ActivitySources(), logger.Named("activity")),
		documents:  documents.NewNormalizer(dataStore, schema, writer, scoper, recorder, logger.Named("documents")),
		sessions:   sessions,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.actions = map[string]actionFunc{
		"add_student":           s.addStudent,
		"update_student":        s.updateStudent,
		"get_students":          s.getStudents,
		"get_student":           s.getStudent,
		"archive_student":       s.archiveStudent,
		"delete_student":        s.archiveStudent,
		"add_goal":              s.saveGoal,
		"update_goal":           s.saveGoal,
		"delete_goal":           s.deleteGoal,
		"save_document":         s.saveDocument,
		"delete_document":       s.deleteDocument,
		"get_student_forms":     s.getStudentForms,
		"get_recent_activity":   s.getRecentActivity,
		"add_progress_skill":    s.addProgressSkill,
		"update_progress_skill": s.updateProgressSkill,
		"get_progress_skills":   s.getProgressSkills,
		"delete_progress_skill": s.deleteProgressSkill,
	}
	return s
}

// Dispatch runs one named action for p.
func (s *Service) Dispatch(ctx context.Context, p ownership.Principal, action string, in Input) (map[string]any, error) {
	name := strings.ToLower(strings.TrimSpace(action))
	if name == "" {
		return nil, missingField("action")
	}
	fn, ok := s.actions[name]
	if !ok {
		return nil, domainError(http.StatusBadRequest, "UNKNOWN_ACTION", fmt.Sprintf("Unknown action %q", action), nil)
	}
	if in == nil {
		in = Input{}
	}
	return fn(ctx, p, in)
}

func (s *Service) Login(ctx context.Context, username string) (Session, error) {
	userName := strings.TrimSpace(username)
	if userName == "" {
		return Session{}, missingField("username")
	}

	userID, err := s.ensureUser(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	token := session.NewToken()
	expiresAt := s.now().Add(s.sessionTTL())
	data := session.Data{UserID: userID, Username: userName, DisplayName: userName, CreatedAt: s.now()}
	if err := s.sessions.Save(ctx, session.HashToken(token), data, expiresAt); err != nil {
		return Session{}, err
	}
	s.log.Info("session started", zap.Int64("user_id", userID))

	return Session{Token: token, UserID: userID, UserName: userName, ExpiresAt: expiresAt}, nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return 12 * time.Hour
}

// ensureUser returns the id of username, creating the user on first login.
func (s *Service) ensureUser(ctx context.Context, username string) (int64, error) {
	lookup := func() (int64, bool, error) {
		rows, err := s.store.Select(ctx, store.SelectQuery{
			Table:   "users",
			Columns: []string{"id"},
			Where:   store.Where(`"username" = ?`, username),
			Limit:   1,
		})
		if err != nil || len(rows) == 0 {
			return 0, false, err
		}
		id, ok := fields.Int64(rows[0]["id"])
		return id, ok, nil
	}

	if id, ok, err := lookup(); err != nil || ok {
		return id, err
	}
	id, insertErr := s.writer.Insert(ctx, "users", store.Candidate{
		"username":     username,
		"display_name": username,
		"created_at":   s.now(),
	})
	if insertErr == nil && id > 0 {
		return id, nil
	}
	// A concurrent login may have created the row first.
	if id, ok, err := lookup(); err == nil && ok {
		return id, nil
	}
	if insertErr == nil {
		insertErr = fmt.Errorf("user %q has no id", username)
	}
	return 0, fmt.Errorf("ensure user: %w", insertErr)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	data, err := s.sessions.Lookup(ctx, session.HashToken(token))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: data.UserID, UserName: data.Username}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, session.HashToken(token))
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	return s.sessions.Ping(ctx)
}

// ClaimOrphans assigns every unowned student to userID.
func (s *Service) ClaimOrphans(ctx context.Context, userID int64) (int64, error) {
	return s.scoper.ClaimOrphans(ctx, userID)
}

func (s *Service) record(ctx context.Context, p ownership.Principal, subject, verb string, studentID int64, metadata map[string]any) {
	_ = s.recorder.Record(ctx, p, activity.Type(subject, verb), studentID, "", metadata)
}

func (s *Service) saveGoal(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	return s.save(ctx, p, documents.Goal, in, in.Int64("goal_id", "goalId", "id"))
}

func (s *Service) deleteGoal(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	id := in.Int64("goal_id", "goalId", "id")
	if id <= 0 {
		return nil, missingField("goal_id")
	}
	table, err := s.documents.Delete(ctx, p, documents.Goal, id, in.Text("table"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal_id": id, "table": table}, nil
}

func (s *Service) saveDocument(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	category, err := categoryOf(in)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, p, category, in, in.Int64("document_id", "documentId", "form_id", "id"))
}

func (s *Service) save(ctx context.Context, p ownership.Principal, category documents.Category, in Input, documentID int64) (map[string]any, error) {
	result, err := s.documents.Save(ctx, p, documents.SaveInput{
		Category:   category,
		StudentID:  in.Int64("student_id", "studentId"),
		DocumentID: documentID,
		Table:      in.Text("table"),
		Raw:        in,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       result.ID,
		"table":    result.Table,
		"category": category.String(),
		"created":  result.Created,
		"fallback": result.Fallback,
		"message":  category.Definition().DefaultTitle + " saved",
	}, nil
}

func (s *Service) deleteDocument(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	category, err := categoryOf(in)
	if err != nil {
		return nil, err
	}
	id := in.Int64("document_id", "documentId", "form_id", "id")
	if id <= 0 {
		return nil, missingField("document_id")
	}
	table, err := s.documents.Delete(ctx, p, category, id, in.Text("table"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "table": table, "category": category.String()}, nil
}

func categoryOf(in Input) (documents.Category, error) {
	raw := in.Text("form_type", "formType", "category", "type")
	if raw == "" {
		return documents.Other, missingField("form_type")
	}
	category, err := documents.ParseCategory(raw)
	if err != nil {
		return documents.Other, domainError(http.StatusBadRequest, "INVALID_CATEGORY", err.Error(), nil)
	}
	return category, nil
}

func (s *Service) getStudentForms(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	studentID := in.Int64("student_id", "studentId", "id")
	grouped, err := s.documents.LoadGrouped(ctx, p, studentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"student_id": studentID, "forms": grouped}, nil
}

func (s *Service) getRecentActivity(ctx context.Context, p ownership.Principal, in Input) (map[string]any, error) {
	limit := int(in.Int64("limit"))
	events, err := s.reconciler.RecentActivity(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"activities": events}, nil
}
