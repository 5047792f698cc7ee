package fhir

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

func TestParseSearchValue(t *testing.T) {
	tests := []struct {
		input      string
		wantPrefix SearchPrefix
		wantValue  string
	}{
		{"gt2023-01-01", PrefixGt, "2023-01-01"},
		{"GE2023-01-01", PrefixGe, "2023-01-01"},
		{"le2023", PrefixLe, "2023"},
		{"2023-01-01", PrefixEq, "2023-01-01"},
		{"x", PrefixEq, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseSearchValue(tt.input)
			if got.Prefix != tt.wantPrefix || got.Value != tt.wantValue {
				t.Errorf("ParseSearchValue(%q) = %+v", tt.input, got)
			}
		})
	}
}

func TestParseDate_Formats(t *testing.T) {
	for _, s := range []string{"2024-01-01T10:00:00Z", "2024-01-01T10:00:00", "2024-01-01", "2024-01", "2024"} {
		if _, err := ParseDate(s); err != nil {
			t.Errorf("ParseDate(%q): %v", s, err)
		}
	}
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("not-a-date")
	var br *BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("expected *BadRequestError, got %v", err)
	}
	if br.Message != "Invalid date format: not-a-date" {
		t.Errorf("message = %q", br.Message)
	}
}

func TestLastUpdatedPredicate(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want store.Predicate
	}{
		{"ge2024-01-01", store.UpdatedAt{Op: store.OpGe, At: day}},
		{"le2024-01-01", store.UpdatedAt{Op: store.OpLe, At: day}},
		{"gt2024-01-01", store.UpdatedAt{Op: store.OpGt, At: day}},
		{"lt2024-01-01", store.UpdatedAt{Op: store.OpLt, At: day}},
		{"2024-01-01", store.UpdatedBetween{From: day, To: day.Add(24*time.Hour - time.Nanosecond)}},
		{"2024-01-01T15:04:05Z", store.UpdatedBetween{From: day, To: day.Add(24*time.Hour - time.Nanosecond)}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := LastUpdatedPredicate(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLastUpdated_SelectsDocuments(t *testing.T) {
	jan1 := &store.Document{ID: "a", UpdatedAt: time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)}
	dec31 := &store.Document{ID: "b", UpdatedAt: time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)}
	jan2 := &store.Document{ID: "c", UpdatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	day, _ := LastUpdatedPredicate("2024-01-01")
	from, _ := LastUpdatedPredicate("ge2024-01-01")

	check := func(name string, p store.Predicate, d *store.Document, want bool) {
		if got := store.Matches(d, []store.Predicate{p}); got != want {
			t.Errorf("%s on %s = %v, want %v", name, d.ID, got, want)
		}
	}
	check("day", day, jan1, true)
	check("day", day, dec31, false)
	check("day", day, jan2, false)
	check("ge", from, jan1, true)
	check("ge", from, jan2, true)
	check("ge", from, dec31, false)
}

func TestDatePredicates(t *testing.T) {
	preds, err := DatePredicates("effectiveDateTime", "2024-03-05")
	if err != nil {
		t.Fatal(err)
	}
	in := &store.Document{Properties: map[string]any{"effectiveDateTime": "2024-03-05T08:00:00Z"}}
	out := &store.Document{Properties: map[string]any{"effectiveDateTime": "2024-03-06T00:00:00Z"}}
	if !store.Matches(in, preds) {
		t.Error("expected same-day observation to match")
	}
	if store.Matches(out, preds) {
		t.Error("expected next-day observation not to match")
	}

	preds, err = DatePredicates("effectiveDateTime", "gt2024-03-05")
	if err != nil {
		t.Fatal(err)
	}
	if !store.Matches(out, preds) {
		t.Error("gt should select later observation")
	}
}

func TestDatePredicates_OffsetLiteralIsUTC(t *testing.T) {
	preds, err := DatePredicates("effectiveDateTime", "ge2024-01-01T05:00:00+05:00")
	if err != nil {
		t.Fatal(err)
	}
	want := store.Compare{Path: "effectiveDateTime", Op: store.OpGe, Value: "2024-01-01T00:00:00Z"}
	if len(preds) != 1 || preds[0] != want {
		t.Fatalf("predicates = %+v, want %+v", preds, want)
	}
	early := &store.Document{Properties: map[string]any{"effectiveDateTime": "2023-12-31T23:30:00Z"}}
	if store.Matches(early, preds) {
		t.Error("instant before the offset literal should not match")
	}
}

func TestTokenPredicate(t *testing.T) {
	if got := TokenPredicate("code.coding", "8867-4"); got != (store.Equals{Path: "code.coding.code", Value: "8867-4"}) {
		t.Errorf("bare code = %+v", got)
	}
	got := TokenPredicate("code.coding", "http://loinc.org|8867-4").(store.ArrayContains)
	if got.Element["system"] != "http://loinc.org" || got.Element["code"] != "8867-4" {
		t.Errorf("system|code = %+v", got)
	}
	got = TokenPredicate("code.coding", "|8867-4").(store.ArrayContains)
	if _, ok := got.Element["system"]; ok || got.Element["code"] != "8867-4" {
		t.Errorf("|code = %+v", got)
	}
}

func TestReferencePredicate(t *testing.T) {
	if got := ReferencePredicate("subject", "Patient", "123"); got != (store.Equals{Path: "subject.reference", Value: "Patient/123"}) {
		t.Errorf("bare id = %+v", got)
	}
	if got := ReferencePredicate("subject", "Patient", "Group/9"); got != (store.Equals{Path: "subject.reference", Value: "Group/9"}) {
		t.Errorf("typed reference = %+v", got)
	}
}

func TestSearchRegistry_CompileOrder(t *testing.T) {
	r := DefaultSearchRegistry()
	q := url.Values{}
	q.Set("gender", "female")
	q.Set("_lastUpdated", "ge2024-01-01")
	q.Set("_id", "a, b,")
	q.Set("unknown", "ignored")

	preds, err := r.Compile("Patient", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 3 {
		t.Fatalf("expected 3 predicates, got %+v", preds)
	}
	ids, ok := preds[0].(store.IDIn)
	if !ok || len(ids.IDs) != 2 || ids.IDs[1] != "b" {
		t.Errorf("first predicate = %+v", preds[0])
	}
	if _, ok := preds[1].(store.UpdatedAt); !ok {
		t.Errorf("second predicate = %+v", preds[1])
	}
	if preds[2] != (store.Equals{Path: "gender", Value: "female"}) {
		t.Errorf("third predicate = %+v", preds[2])
	}
}

func TestSearchRegistry_PatientScenario(t *testing.T) {
	r := DefaultSearchRegistry()
	q := url.Values{"gender": {"female"}, "name": {"john"}}
	preds, err := r.Compile("Patient", q)
	if err != nil {
		t.Fatal(err)
	}

	docs := map[string]*store.Document{
		"match": {Properties: map[string]any{"gender": "female", "name": []any{map[string]any{"given": []any{"Johnna"}}}}},
		"male":  {Properties: map[string]any{"gender": "male", "name": []any{map[string]any{"family": "Johnson"}}}},
		"other": {Properties: map[string]any{"gender": "female", "name": []any{map[string]any{"family": "Smith"}}}},
	}
	for name, d := range docs {
		if got := store.Matches(d, preds); got != (name == "match") {
			t.Errorf("%s matched = %v", name, got)
		}
	}
}

func TestSearchRegistry_RepeatedParamsAreANDed(t *testing.T) {
	r := DefaultSearchRegistry()
	q := url.Values{"date": {"ge2024-01-01", "le2024-01-31"}}
	preds, err := r.Compile("Observation", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected 2 predicates, got %+v", preds)
	}
	for i, op := range []store.Op{store.OpGe, store.OpLe} {
		c, ok := preds[i].(store.Compare)
		if !ok || c.Op != op {
			t.Errorf("predicate %d = %+v, want op %v", i, preds[i], op)
		}
	}

	docs := map[string]bool{
		"2024-01-15T10:00:00Z": true,
		"2023-12-31T10:00:00Z": false,
		"2024-02-01T10:00:00Z": false,
	}
	for at, want := range docs {
		d := &store.Document{Properties: map[string]any{"effectiveDateTime": at}}
		if got := store.Matches(d, preds); got != want {
			t.Errorf("%s matched = %v, want %v", at, got, want)
		}
	}
}

func TestSearchRegistry_RepeatedParamSkipsEmptyAndRejectsBad(t *testing.T) {
	r := DefaultSearchRegistry()
	preds, err := r.Compile("Patient", url.Values{"gender": {"", "female"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 1 || preds[0] != (store.Equals{Path: "gender", Value: "female"}) {
		t.Errorf("predicates = %+v", preds)
	}
	if _, err := r.Compile("Patient", url.Values{"birthdate": {"1990-01-01", "soon"}}); err == nil {
		t.Error("expected the second bad value to fail")
	}
}

func TestSearchRegistry_BadDate(t *testing.T) {
	r := DefaultSearchRegistry()
	_, err := r.Compile("Patient", url.Values{"birthdate": {"yesterday"}})
	var br *BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("expected *BadRequestError, got %v", err)
	}
}

func TestSearchRegistry_Birthdate(t *testing.T) {
	r := DefaultSearchRegistry()
	preds, err := r.Compile("Patient", url.Values{"birthdate": {"1990-04-01"}})
	if err != nil {
		t.Fatal(err)
	}
	if preds[0] != (store.Equals{Path: "birthDate", Value: "1990-04-01"}) {
		t.Errorf("birthdate predicate = %+v", preds[0])
	}
}

func TestSearchRegistry_OrganizationActive(t *testing.T) {
	r := DefaultSearchRegistry()
	preds, err := r.Compile("Organization", url.Values{"active": {"true"}})
	if err != nil {
		t.Fatal(err)
	}
	if preds[0] != (store.Equals{Path: "active", Value: true}) {
		t.Errorf("active predicate = %+v", preds[0])
	}
	if _, err := r.Compile("Organization", url.Values{"active": {"maybe"}}); err == nil {
		t.Error("expected error for non-boolean active")
	}
}

func TestSearchRegistry_Params(t *testing.T) {
	r := DefaultSearchRegistry()
	params := r.Params("Observation")
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	want := []string{"_id", "_lastUpdated", "subject", "code", "date", "category", "status"}
	if len(names) != len(want) {
		t.Fatalf("params = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("param %d = %s, want %s", i, names[i], want[i])
		}
	}
}
