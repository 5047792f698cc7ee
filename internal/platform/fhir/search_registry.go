package fhir

import (
	"net/url"
	"strings"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

// SearchParamType is the FHIR search parameter type reported in the
// CapabilityStatement.
type SearchParamType string

const (
	SearchParamToken     SearchParamType = "token"
	SearchParamDate      SearchParamType = "date"
	SearchParamString    SearchParamType = "string"
	SearchParamReference SearchParamType = "reference"
)

// SearchParamHandler compiles one search parameter into store predicates.
type SearchParamHandler struct {
	Name          string
	Type          SearchParamType
	Documentation string
	Build         func(value string) ([]store.Predicate, error)
}

// CommonSearchParams are accepted for every resource type and compiled
// before any type-specific parameter.
var CommonSearchParams = []SearchParamHandler{
	{
		Name: "_id", Type: SearchParamToken, Documentation: "Logical id of the resource",
		Build: func(v string) ([]store.Predicate, error) {
			var ids []string
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
			return []store.Predicate{store.IDIn{IDs: ids}}, nil
		},
	},
	{
		Name: "_lastUpdated", Type: SearchParamDate, Documentation: "Last updated date",
		Build: func(v string) ([]store.Predicate, error) {
			p, err := LastUpdatedPredicate(v)
			if err != nil {
				return nil, err
			}
			return []store.Predicate{p}, nil
		},
	},
}

// SearchRegistry maps a resource type to its ordered search handlers. It is
// populated at startup and read-only afterwards.
type SearchRegistry struct {
	handlers map[string][]SearchParamHandler
}

func NewSearchRegistry() *SearchRegistry {
	return &SearchRegistry{handlers: make(map[string][]SearchParamHandler)}
}

// Register appends handlers for resourceType.
func (r *SearchRegistry) Register(resourceType string, handlers ...SearchParamHandler) {
	r.handlers[resourceType] = append(r.handlers[resourceType], handlers...)
}

// Params returns the common parameters followed by those registered for
// resourceType.
func (r *SearchRegistry) Params(resourceType string) []SearchParamHandler {
	out := make([]SearchParamHandler, 0, len(CommonSearchParams)+len(r.handlers[resourceType]))
	out = append(out, CommonSearchParams...)
	return append(out, r.handlers[resourceType]...)
}

// Compile turns query parameters into a conjunction of predicates. A
// repeated parameter ANDs every value. Empty values and parameters with no
// handler are ignored.
func (r *SearchRegistry) Compile(resourceType string, q url.Values) ([]store.Predicate, error) {
	var preds []store.Predicate
	for _, h := range r.Params(resourceType) {
		for _, v := range q[h.Name] {
			if v == "" {
				continue
			}
			p, err := h.Build(v)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p...)
		}
	}
	return preds, nil
}

func one(p store.Predicate) []store.Predicate { return []store.Predicate{p} }

func stringParam(name, doc string, paths ...string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamString, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return one(store.ContainsText{Paths: paths, Text: v}), nil
		}}
}

func exactParam(name, doc, path string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamToken, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return one(store.Equals{Path: path, Value: v}), nil
		}}
}

func booleanParam(name, doc, path string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamToken, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			switch strings.ToLower(v) {
			case "true":
				return one(store.Equals{Path: path, Value: true}), nil
			case "false":
				return one(store.Equals{Path: path, Value: false}), nil
			}
			return nil, &BadRequestError{Message: "Invalid boolean value for " + name + ": " + v}
		}}
}

func tokenParam(name, doc, path string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamToken, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return one(TokenPredicate(path, v)), nil
		}}
}

func identifierParam(doc string) SearchParamHandler {
	return SearchParamHandler{Name: "identifier", Type: SearchParamToken, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return one(IdentifierPredicate("identifier", v)), nil
		}}
}

func referenceParam(name, doc, path, target string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamReference, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return one(ReferencePredicate(path, target, v)), nil
		}}
}

func dateParam(name, doc, path string) SearchParamHandler {
	return SearchParamHandler{Name: name, Type: SearchParamDate, Documentation: doc,
		Build: func(v string) ([]store.Predicate, error) {
			return DatePredicates(path, v)
		}}
}

var humanNamePaths = []string{"name.text", "name.family", "name.given", "name.prefix", "name.suffix"}

// DefaultSearchRegistry registers the search parameters of every supported
// resource type.
func DefaultSearchRegistry() *SearchRegistry {
	r := NewSearchRegistry()

	r.Register("Patient",
		stringParam("name", "Patient name", humanNamePaths...),
		SearchParamHandler{Name: "birthdate", Type: SearchParamDate, Documentation: "Birth date",
			Build: func(v string) ([]store.Predicate, error) {
				t, err := ParseDate(v)
				if err != nil {
					return nil, err
				}
				return one(store.Equals{Path: "birthDate", Value: t.Format("2006-01-02")}), nil
			}},
		exactParam("gender", "Gender", "gender"),
		identifierParam("Patient identifier"),
	)

	r.Register("Observation",
		referenceParam("subject", "Patient reference", "subject", "Patient"),
		tokenParam("code", "Observation code", "code.coding"),
		dateParam("date", "Observation date", "effectiveDateTime"),
		tokenParam("category", "Observation category", "category.coding"),
		exactParam("status", "Observation status", "status"),
	)

	r.Register("Practitioner",
		stringParam("name", "Practitioner name", humanNamePaths...),
		identifierParam("Practitioner identifier"),
		exactParam("gender", "Gender", "gender"),
	)

	r.Register("Organization",
		stringParam("name", "Organization name", "name", "alias"),
		identifierParam("Organization identifier"),
		booleanParam("active", "Whether the organization is active", "active"),
	)

	r.Register("Encounter",
		referenceParam("subject", "Patient reference", "subject", "Patient"),
		exactParam("status", "Encounter status", "status"),
		dateParam("date", "Encounter start date", "period.start"),
	)

	r.Register("Device",
		stringParam("manufacturer", "Device manufacturer", "manufacturer"),
		exactParam("status", "Device status", "status"),
		identifierParam("Device identifier"),
	)

	r.Register("Condition",
		referenceParam("subject", "Patient reference", "subject", "Patient"),
		tokenParam("code", "Condition code", "code.coding"),
		tokenParam("clinical-status", "Clinical status", "clinicalStatus.coding"),
	)

	r.Register("CarePlan",
		referenceParam("subject", "Patient reference", "subject", "Patient"),
		exactParam("status", "CarePlan status", "status"),
		exactParam("intent", "CarePlan intent", "intent"),
	)

	return r
}
