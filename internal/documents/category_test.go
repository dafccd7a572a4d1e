package documents

import (
	"testing"

	"caseload/api/internal/activity"
)

func TestEveryCategoryIsDefined(t *testing.T) {
	seenTables := map[string]bool{}
	for _, c := range AllCategories() {
		def := c.Definition()
		if def.Name == "" || def.Table == "" || def.DefaultTitle == "" {
			t.Fatalf("category %d has an incomplete definition: %+v", int(c), def)
		}
		if len(def.Fields) == 0 {
			t.Fatalf("%s has no fields", def.Name)
		}
		if seenTables[def.Table] {
			t.Fatalf("table %s used twice", def.Table)
		}
		seenTables[def.Table] = true

		if _, ok := activity.Noun(c.Subject()); !ok {
			t.Errorf("%s has no activity noun", def.Name)
		}
		for _, raw := range append([]string{def.Name, def.Table}, def.Aliases...) {
			got, err := ParseCategory(raw)
			if err != nil || got != c {
				t.Errorf("ParseCategory(%q) = %v, %v; want %v", raw, got, err, c)
			}
		}
	}
}

func TestParseCategoryNormalizesSpelling(t *testing.T) {
	cases := map[string]Category{
		"Initial Evaluation": Evaluation,
		"session-report":     Session,
		" DISCHARGE_REPORT ": Discharge,
		"goals":              Goal,
	}
	for raw, want := range cases {
		got, err := ParseCategory(raw)
		if err != nil || got != want {
			t.Errorf("ParseCategory(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := ParseCategory("invoice"); err == nil {
		t.Fatal("expected an error for an unknown category")
	}
	if categoryOrOther("invoice") != Other {
		t.Fatal("unknown catch-all form types map to Other")
	}
}

func TestActivitySourcesCoverEveryTable(t *testing.T) {
	sources := ActivitySources()
	if len(sources) != len(AllCategories())+1 {
		t.Fatalf("got %d sources", len(sources))
	}
	last := sources[len(sources)-1]
	if last.SubjectOf == nil || last.SubjectOf("session_report") != "session" {
		t.Fatalf("catch-all source maps form types to subjects, got %+v", last)
	}
}
