package activity

import (
	"strings"
)

// Subjects. Document categories use their category name as subject.
const (
	SubjectStudent       = "student"
	SubjectGoal          = "goal"
	SubjectEvaluation    = "evaluation"
	SubjectSession       = "session"
	SubjectDischarge     = "discharge"
	SubjectOther         = "other"
	SubjectProgressSkill = "progress_skill"
)

// Verbs a type may end in.
const (
	VerbCreated  = "created"
	VerbUpdated  = "updated"
	VerbDeleted  = "deleted"
	VerbArchived = "archived"
)

var nouns = map[string]string{
	SubjectStudent:       "Student",
	SubjectGoal:          "Goal",
	SubjectEvaluation:    "Initial evaluation",
	SubjectSession:       "Session report",
	SubjectDischarge:     "Discharge report",
	SubjectOther:         "Document",
	SubjectProgressSkill: "Progress skill",
}

var subjectAliases = map[string]string{
	"student":            SubjectStudent,
	"students":           SubjectStudent,
	"goal":               SubjectGoal,
	"goals":              SubjectGoal,
	"evaluation":         SubjectEvaluation,
	"initial_evaluation": SubjectEvaluation,
	"eval":               SubjectEvaluation,
	"session":            SubjectSession,
	"session_report":     SubjectSession,
	"session_note":       SubjectSession,
	"discharge":          SubjectDischarge,
	"discharge_report":   SubjectDischarge,
	"other":              SubjectOther,
	"other_document":     SubjectOther,
	"document":           SubjectOther,
	"progress_skill":     SubjectProgressSkill,
	"skill":              SubjectProgressSkill,
}

var verbAliases = map[string]string{
	"created":  VerbCreated,
	"create":   VerbCreated,
	"added":    VerbCreated,
	"add":      VerbCreated,
	"new":      VerbCreated,
	"updated":  VerbUpdated,
	"update":   VerbUpdated,
	"edited":   VerbUpdated,
	"edit":     VerbUpdated,
	"modified": VerbUpdated,
	"changed":  VerbUpdated,
	"deleted":  VerbDeleted,
	"delete":   VerbDeleted,
	"removed":  VerbDeleted,
	"remove":   VerbDeleted,
	"archived": VerbArchived,
	"archive":  VerbArchived,
}

// Noun returns the display noun for a subject.
func Noun(subject string) (string, bool) {
	noun, ok := nouns[subject]
	return noun, ok
}

// Type builds a canonical event type.
func Type(subject, verb string) string {
	return subject + "_" + verb
}

// Canonicalize turns raw log types such as "add_goal", "goal_added" or
// "discharge_report_updated" into "<subject>_<verb>". Types it cannot read are
// returned normalized with an empty verb.
func Canonicalize(raw string) (eventType, subject, verb string) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(norm)
	tokens := strings.FieldsFunc(norm, func(r rune) bool { return r == '_' })
	if len(tokens) == 0 {
		return "", "", ""
	}

	if len(tokens) > 1 {
		if v, ok := verbAliases[tokens[len(tokens)-1]]; ok {
			subject = canonicalSubject(strings.Join(tokens[:len(tokens)-1], "_"))
			return Type(subject, v), subject, v
		}
		if v, ok := verbAliases[tokens[0]]; ok {
			subject = canonicalSubject(strings.Join(tokens[1:], "_"))
			return Type(subject, v), subject, v
		}
	}
	joined := strings.Join(tokens, "_")
	return joined, canonicalSubject(joined), ""
}

func canonicalSubject(subject string) string {
	if canonical, ok := subjectAliases[subject]; ok {
		return canonical
	}
	return subject
}

// Describe phrases an event type as a title ("Goal created") and a description
// ("Goal created for Ada Lovelace").
func Describe(eventType, studentName string) (title, description string) {
	_, subject, verb := Canonicalize(eventType)
	noun, ok := Noun(subject)
	if !ok {
		noun = humanize(subject)
	}
	title = noun
	if verb != "" {
		title = noun + " " + verb
	}
	description = title
	if name := strings.TrimSpace(studentName); name != "" {
		description = title + " for " + name
	}
	return title, description
}

func humanize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return "Activity"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
