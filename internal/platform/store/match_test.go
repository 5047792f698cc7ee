package store

import (
	"testing"
	"time"
)

func patientDoc() *Document {
	props, _ := Normalize(map[string]any{
		"resourceType": "Patient",
		"gender":       "female",
		"birthDate":    "1990-04-12",
		"name": []any{
			map[string]any{"family": "Johnson", "given": []any{"Mary", "Ann"}},
		},
		"identifier": []any{
			map[string]any{"system": "http://hospital.org/mrn", "value": "MRN-1"},
		},
		"effectiveDateTime": "2024-03-05T10:00:00Z",
	})
	return &Document{
		ID:         "abc",
		Namespace:  "fhir-patient",
		Properties: props,
		UpdatedAt:  time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestValues_TraversesArrays(t *testing.T) {
	doc := patientDoc()
	got := Values(doc.Properties, "name.given")
	if len(got) != 2 || got[0] != "Mary" || got[1] != "Ann" {
		t.Errorf("Values(name.given) = %v", got)
	}
	if len(Values(doc.Properties, "name.missing")) != 0 {
		t.Error("missing path should yield nothing")
	}
	if len(Values(doc.Properties, "gender.deeper")) != 0 {
		t.Error("descending into a scalar should yield nothing")
	}
}

func TestMatches(t *testing.T) {
	doc := patientDoc()
	at := doc.UpdatedAt

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"id in", IDIn{IDs: []string{"x", "abc"}}, true},
		{"id not in", IDIn{IDs: []string{"x"}}, false},
		{"updated ge", UpdatedAt{Op: OpGe, At: at}, true},
		{"updated gt", UpdatedAt{Op: OpGt, At: at}, false},
		{"updated lt", UpdatedAt{Op: OpLt, At: at.Add(time.Second)}, true},
		{"updated between", UpdatedBetween{From: at.Add(-time.Hour), To: at}, true},
		{"updated outside", UpdatedBetween{From: at.Add(time.Nanosecond), To: at.Add(time.Hour)}, false},
		{"equals", Equals{Path: "gender", Value: "female"}, true},
		{"equals other", Equals{Path: "gender", Value: "male"}, false},
		{"equals in array", Equals{Path: "name.given", Value: "Ann"}, true},
		{"text case-insensitive", ContainsText{Paths: []string{"name.family", "name.given"}, Text: "JOHN"}, true},
		{"text miss", ContainsText{Paths: []string{"name.family"}, Text: "smith"}, false},
		{"array contains value", ArrayContains{Path: "identifier", Element: map[string]any{"value": "MRN-1"}}, true},
		{"array contains system+value", ArrayContains{Path: "identifier", Element: map[string]any{"system": "http://hospital.org/mrn", "value": "MRN-1"}}, true},
		{"array contains wrong system", ArrayContains{Path: "identifier", Element: map[string]any{"system": "x", "value": "MRN-1"}}, false},
		{"compare ge", Compare{Path: "effectiveDateTime", Op: OpGe, Value: "2024-03-05"}, true},
		{"compare lt", Compare{Path: "effectiveDateTime", Op: OpLt, Value: "2024-03-05"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(doc, []Predicate{tt.pred}); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.pred, got, tt.want)
			}
		})
	}
}

func TestMatches_Conjunction(t *testing.T) {
	doc := patientDoc()
	preds := []Predicate{
		Equals{Path: "gender", Value: "female"},
		ContainsText{Paths: []string{"name.given"}, Text: "john"},
	}
	if Matches(doc, preds) {
		t.Error("all predicates must hold")
	}
}

func TestNormalize_RejectsUnencodable(t *testing.T) {
	if _, err := Normalize(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error")
	}
}
