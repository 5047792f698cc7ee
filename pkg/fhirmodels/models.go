package fhirmodels

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Datatypes shared by the resource models. Date and dateTime values stay as
// strings because FHIR allows partial dates ("2024", "2024-03").

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Period *Period          `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
	Rank   int    `json:"rank,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type Quantity struct {
	Value  *float64 `json:"value,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	System string   `json:"system,omitempty"`
	Code   string   `json:"code,omitempty"`
}

type Annotation struct {
	Text         string `json:"text"`
	Time         string `json:"time,omitempty"`
	AuthorString string `json:"authorString,omitempty"`
}

// Model is implemented by every typed resource.
type Model interface {
	ResourceTypeName() string
}

type Patient struct {
	Identifier           []Identifier     `json:"identifier,omitempty"`
	Active               *bool            `json:"active,omitempty"`
	Name                 []HumanName      `json:"name,omitempty"`
	Telecom              []ContactPoint   `json:"telecom,omitempty"`
	Gender               string           `json:"gender,omitempty"`
	BirthDate            string           `json:"birthDate,omitempty"`
	DeceasedBoolean      *bool            `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime     string           `json:"deceasedDateTime,omitempty"`
	Address              []Address        `json:"address,omitempty"`
	MaritalStatus        *CodeableConcept `json:"maritalStatus,omitempty"`
	GeneralPractitioner  []Reference      `json:"generalPractitioner,omitempty"`
	ManagingOrganization *Reference       `json:"managingOrganization,omitempty"`
}

type Observation struct {
	Identifier           []Identifier      `json:"identifier,omitempty"`
	Status               string            `json:"status,omitempty"`
	Category             []CodeableConcept `json:"category,omitempty"`
	Code                 *CodeableConcept  `json:"code,omitempty"`
	Subject              *Reference        `json:"subject,omitempty"`
	Encounter            *Reference        `json:"encounter,omitempty"`
	EffectiveDateTime    string            `json:"effectiveDateTime,omitempty"`
	EffectivePeriod      *Period           `json:"effectivePeriod,omitempty"`
	Issued               string            `json:"issued,omitempty"`
	Performer            []Reference       `json:"performer,omitempty"`
	ValueQuantity        *Quantity         `json:"valueQuantity,omitempty"`
	ValueCodeableConcept *CodeableConcept  `json:"valueCodeableConcept,omitempty"`
	ValueString          *string           `json:"valueString,omitempty"`
	ValueBoolean         *bool             `json:"valueBoolean,omitempty"`
	ValueInteger         *int              `json:"valueInteger,omitempty"`
	Interpretation       []CodeableConcept `json:"interpretation,omitempty"`
	Note                 []Annotation      `json:"note,omitempty"`
	Device               *Reference        `json:"device,omitempty"`
}

type Practitioner struct {
	Identifier    []Identifier   `json:"identifier,omitempty"`
	Active        *bool          `json:"active,omitempty"`
	Name          []HumanName    `json:"name,omitempty"`
	Telecom       []ContactPoint `json:"telecom,omitempty"`
	Address       []Address      `json:"address,omitempty"`
	Gender        string         `json:"gender,omitempty"`
	BirthDate     string         `json:"birthDate,omitempty"`
	Qualification []struct {
		Identifier []Identifier     `json:"identifier,omitempty"`
		Code       *CodeableConcept `json:"code,omitempty"`
		Period     *Period          `json:"period,omitempty"`
		Issuer     *Reference       `json:"issuer,omitempty"`
	} `json:"qualification,omitempty"`
	Communication []CodeableConcept `json:"communication,omitempty"`
}

type Organization struct {
	Identifier []Identifier      `json:"identifier,omitempty"`
	Active     *bool             `json:"active,omitempty"`
	Type       []CodeableConcept `json:"type,omitempty"`
	Name       string            `json:"name,omitempty"`
	Alias      []string          `json:"alias,omitempty"`
	Telecom    []ContactPoint    `json:"telecom,omitempty"`
	Address    []Address         `json:"address,omitempty"`
	PartOf     *Reference        `json:"partOf,omitempty"`
	Endpoint   []Reference       `json:"endpoint,omitempty"`
}

type Encounter struct {
	Identifier  []Identifier      `json:"identifier,omitempty"`
	Status      string            `json:"status,omitempty"`
	Class       *Coding           `json:"class,omitempty"`
	Type        []CodeableConcept `json:"type,omitempty"`
	Priority    *CodeableConcept  `json:"priority,omitempty"`
	Subject     *Reference        `json:"subject,omitempty"`
	Participant []struct {
		Type       []CodeableConcept `json:"type,omitempty"`
		Period     *Period           `json:"period,omitempty"`
		Individual *Reference        `json:"individual,omitempty"`
	} `json:"participant,omitempty"`
	Period     *Period           `json:"period,omitempty"`
	ReasonCode []CodeableConcept `json:"reasonCode,omitempty"`
}

type DeviceName struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Device struct {
	Identifier         []Identifier     `json:"identifier,omitempty"`
	Status             string           `json:"status,omitempty"`
	DistinctIdentifier string           `json:"distinctIdentifier,omitempty"`
	Manufacturer       string           `json:"manufacturer,omitempty"`
	ManufactureDate    string           `json:"manufactureDate,omitempty"`
	ExpirationDate     string           `json:"expirationDate,omitempty"`
	LotNumber          string           `json:"lotNumber,omitempty"`
	SerialNumber       string           `json:"serialNumber,omitempty"`
	DeviceName         []DeviceName     `json:"deviceName,omitempty"`
	ModelNumber        string           `json:"modelNumber,omitempty"`
	Type               *CodeableConcept `json:"type,omitempty"`
	Patient            *Reference       `json:"patient,omitempty"`
	Owner              *Reference       `json:"owner,omitempty"`
	URL                string           `json:"url,omitempty"`
	Note               []Annotation     `json:"note,omitempty"`
}

type Condition struct {
	Identifier         []Identifier      `json:"identifier,omitempty"`
	ClinicalStatus     *CodeableConcept  `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept  `json:"verificationStatus,omitempty"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Severity           *CodeableConcept  `json:"severity,omitempty"`
	Code               *CodeableConcept  `json:"code,omitempty"`
	BodySite           []CodeableConcept `json:"bodySite,omitempty"`
	Subject            *Reference        `json:"subject,omitempty"`
	Encounter          *Reference        `json:"encounter,omitempty"`
	OnsetDateTime      string            `json:"onsetDateTime,omitempty"`
	AbatementDateTime  string            `json:"abatementDateTime,omitempty"`
	RecordedDate       string            `json:"recordedDate,omitempty"`
	Recorder           *Reference        `json:"recorder,omitempty"`
	Asserter           *Reference        `json:"asserter,omitempty"`
	Note               []Annotation      `json:"note,omitempty"`
}

type CarePlan struct {
	Identifier            []Identifier      `json:"identifier,omitempty"`
	InstantiatesCanonical []string          `json:"instantiatesCanonical,omitempty"`
	InstantiatesURI       []string          `json:"instantiatesUri,omitempty"`
	BasedOn               []Reference       `json:"basedOn,omitempty"`
	Replaces              []Reference       `json:"replaces,omitempty"`
	PartOf                []Reference       `json:"partOf,omitempty"`
	Status                string            `json:"status,omitempty"`
	Intent                string            `json:"intent,omitempty"`
	Category              []CodeableConcept `json:"category,omitempty"`
	Title                 string            `json:"title,omitempty"`
	Description           string            `json:"description,omitempty"`
	Subject               *Reference        `json:"subject,omitempty"`
	Encounter             *Reference        `json:"encounter,omitempty"`
	Period                *Period           `json:"period,omitempty"`
	Created               string            `json:"created,omitempty"`
	Author                *Reference        `json:"author,omitempty"`
	Contributor           []Reference       `json:"contributor,omitempty"`
	CareTeam              []Reference       `json:"careTeam,omitempty"`
	Addresses             []Reference       `json:"addresses,omitempty"`
	SupportingInfo        []Reference       `json:"supportingInfo,omitempty"`
	Goal                  []Reference       `json:"goal,omitempty"`
	Note                  []Annotation      `json:"note,omitempty"`
}

func (*Patient) ResourceTypeName() string      { return "Patient" }
func (*Observation) ResourceTypeName() string  { return "Observation" }
func (*Practitioner) ResourceTypeName() string { return "Practitioner" }
func (*Organization) ResourceTypeName() string { return "Organization" }
func (*Encounter) ResourceTypeName() string    { return "Encounter" }
func (*Device) ResourceTypeName() string       { return "Device" }
func (*Condition) ResourceTypeName() string    { return "Condition" }
func (*CarePlan) ResourceTypeName() string     { return "CarePlan" }

var constructors = map[string]func() Model{
	"Patient":      func() Model { return &Patient{} },
	"Observation":  func() Model { return &Observation{} },
	"Practitioner": func() Model { return &Practitioner{} },
	"Organization": func() Model { return &Organization{} },
	"Encounter":    func() Model { return &Encounter{} },
	"Device":       func() Model { return &Device{} },
	"Condition":    func() Model { return &Condition{} },
	"CarePlan":     func() Model { return &CarePlan{} },
}

// New returns an empty model for resourceType.
func New(resourceType string) (Model, bool) {
	c, ok := constructors[resourceType]
	if !ok {
		return nil, false
	}
	return c(), true
}

// Decode parses data into the typed model for resourceType. Unknown fields
// are accepted; fields with the wrong JSON shape are not.
func Decode(resourceType string, data []byte) (Model, error) {
	m, ok := New(resourceType)
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}
