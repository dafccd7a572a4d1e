package documents

import (
	"fmt"
	"strings"

	"caseload/api/internal/activity"
	"caseload/api/internal/fields"
	"caseload/api/internal/store"
)

// Category is the closed set of document kinds a student file holds.
type Category int

const (
	Evaluation Category = iota
	Goal
	Session
	Discharge
	Other
)

// AllCategories lists every category in display order.
func AllCategories() []Category {
	return []Category{Evaluation, Goal, Session, Discharge, Other}
}

// FieldSpec is one canonical field of a category.
type FieldSpec struct {
	fields.Variants
	Required bool
}

type Definition struct {
	Name         string
	Table        string
	DefaultTitle string
	Aliases      []string
	Fields       []FieldSpec
}

// Definition returns the table and field layout of c. Adding a category means
// adding a case here; the package tests walk AllCategories.
func (c Category) Definition() Definition {
	switch c {
	case Evaluation:
		return Definition{
			Name:         "evaluation",
			Table:        "initial_evaluations",
			DefaultTitle: "Initial Evaluation",
			Aliases:      []string{"initial_evaluation", "initial_eval", "eval"},
			Fields: []FieldSpec{
				{Variants: fields.Variants{
					Canonical: "reason_referral",
					Columns:   []string{"Reason_for_referral", "reason_for_referral", "referral_reason"},
					Inputs:    []string{"reasonReferral", "reasonForReferral", "referralReason"},
				}},
				{Variants: fields.Variants{
					Canonical: "background_info",
					Columns:   []string{"Background_information", "background_information", "background"},
					Inputs:    []string{"backgroundInfo", "backgroundInformation"},
				}},
				{Variants: fields.Variants{
					Canonical: "assessment_results",
					Columns:   []string{"Assessment_results", "test_results", "assessment"},
					Inputs:    []string{"assessmentResults", "testResults"},
				}},
				{Variants: fields.Variants{
					Canonical: "recommendations",
					Columns:   []string{"Recommendations"},
					Inputs:    []string{"recommendation"},
				}},
			},
		}
	case Goal:
		return Definition{
			Name:         "goal",
			Table:        "goals",
			DefaultTitle: "Goal",
			Aliases:      []string{"goals", "iep_goal"},
			Fields: []FieldSpec{
				{Variants: fields.Variants{
					Canonical: "goal_area",
					Columns:   []string{"Goal_Area", "area"},
					Inputs:    []string{"goalArea", "area"},
				}},
				{Required: true, Variants: fields.Variants{
					Canonical: "description",
					Columns:   []string{"goal_text", "Goal_Description"},
					Inputs:    []string{"goalDescription", "goal_description", "goal_text", "goal"},
				}},
				{Variants: fields.Variants{
					Canonical: "baseline",
					Columns:   []string{"Baseline", "baseline_data"},
					Inputs:    []string{"baselineData"},
				}},
				{Variants: fields.Variants{
					Canonical: "target_criteria",
					Columns:   []string{"target", "criteria", "Target_Criteria"},
					Inputs:    []string{"targetCriteria", "target", "criteria"},
				}},
				{Variants: fields.Variants{
					Canonical: "target_date",
					Columns:   []string{"Target_Date", "due_date"},
					Inputs:    []string{"targetDate", "dueDate"},
				}},
				{Variants: fields.Variants{
					Canonical: "status",
					Columns:   []string{"goal_status"},
					Inputs:    []string{"goalStatus"},
				}},
			},
		}
	case Session:
		return Definition{
			Name:         "session",
			Table:        "session_reports",
			DefaultTitle: "Session Report",
			Aliases:      []string{"session_report", "session_note", "progress_report"},
			Fields: []FieldSpec{
				{Required: true, Variants: fields.Variants{
					Canonical: "session_date",
					Columns:   []string{"Session_Date", "date_of_session", "date"},
					Inputs:    []string{"sessionDate", "date"},
				}},
				{Variants: fields.Variants{
					Canonical: "duration",
					Columns:   []string{"duration_minutes", "session_duration"},
					Inputs:    []string{"sessionDuration", "durationMinutes", "duration_minutes"},
				}},
				{Variants: fields.Variants{
					Canonical: "activities",
					Columns:   []string{"Activities_Performed", "activities_performed"},
					Inputs:    []string{"activitiesPerformed"},
				}},
				{Variants: fields.Variants{
					Canonical: "progress_notes",
					Columns:   []string{"Progress_Notes", "notes"},
					Inputs:    []string{"progressNotes", "notes"},
				}},
				{Variants: fields.Variants{
					Canonical: "plan",
					Columns:   []string{"Plan_for_Next_Session", "next_steps"},
					Inputs:    []string{"nextSteps", "next_steps", "planNextSession"},
				}},
			},
		}
	case Discharge:
		return Definition{
			Name:         "discharge",
			Table:        "discharge_reports",
			DefaultTitle: "Discharge Report",
			Aliases:      []string{"discharge_report", "discharge_summary"},
			Fields: []FieldSpec{
				{Required: true, Variants: fields.Variants{
					Canonical: "discharge_reason",
					Columns:   []string{"Reason_for_discharge", "reason_for_discharge"},
					Inputs:    []string{"dischargeReason", "reasonForDischarge", "reason"},
				}},
				{Variants: fields.Variants{
					Canonical: "summary_of_services",
					Columns:   []string{"Summary_of_Services_Provided", "summary_of_services_provided", "services_summary"},
					Inputs:    []string{"summaryOfServices", "servicesSummary"},
				}},
				{Variants: fields.Variants{
					Canonical: "goals_met",
					Columns:   []string{"Goals_Met", "goals_achieved"},
					Inputs:    []string{"goalsMet", "goalsAchieved"},
				}},
				{Variants: fields.Variants{
					Canonical: "recommendations",
					Columns:   []string{"Recommendations", "follow_up_recommendations"},
					Inputs:    []string{"followUpRecommendations"},
				}},
				{Variants: fields.Variants{
					Canonical: "discharge_date",
					Columns:   []string{"Date_of_discharge", "date_of_discharge"},
					Inputs:    []string{"dischargeDate"},
				}},
			},
		}
	case Other:
		return Definition{
			Name:         "other",
			Table:        "other_documents",
			DefaultTitle: "Document",
			Aliases:      []string{"other_document", "document", "misc"},
			Fields: []FieldSpec{
				{Variants: fields.Variants{
					Canonical: "document_type",
					Columns:   []string{"doc_type", "Document_Type"},
					Inputs:    []string{"documentType", "docType"},
				}},
				{Variants: fields.Variants{
					Canonical: "content",
					Columns:   []string{"body", "notes", "Content"},
					Inputs:    []string{"body", "text", "notes"},
				}},
			},
		}
	}
	panic(fmt.Sprintf("documents: unknown category %d", int(c)))
}

func (c Category) String() string {
	return c.Definition().Name
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Subject is the activity subject events for this category use.
func (c Category) Subject() string {
	return c.Definition().Name
}

// ParseCategory accepts category names and legacy form-type names.
func ParseCategory(raw string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(strings.ReplaceAll(norm, "-", "_"), " ", "_")
	for _, c := range AllCategories() {
		def := c.Definition()
		if norm == def.Name || norm == def.Table {
			return c, nil
		}
		for _, alias := range def.Aliases {
			if norm == alias {
				return c, nil
			}
		}
	}
	return Other, fmt.Errorf("unknown document category %q", raw)
}

// categoryOrOther maps catch-all form types, treating unknown ones as Other.
func categoryOrOther(raw string) Category {
	c, err := ParseCategory(raw)
	if err != nil {
		return Other
	}
	return c
}

// ActivitySources lists the tables the activity feed synthesizes document
// events from.
func ActivitySources() []activity.Source {
	sources := make([]activity.Source, 0, len(AllCategories())+1)
	for _, c := range AllCategories() {
		def := c.Definition()
		sources = append(sources, activity.Source{Table: def.Table, Subject: def.Name})
	}
	return append(sources, activity.Source{
		Table:         store.CatchAllTable,
		SubjectColumn: "form_type",
		SubjectOf:     func(raw string) string { return categoryOrOther(raw).Subject() },
	})
}
