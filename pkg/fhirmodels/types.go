// Package fhirmodels holds typed FHIR R4 resource models and the value set
// codes the server and the ingestion pipeline share.
package fhirmodels

// Code systems.
const (
	SystemLOINC               = "http://loinc.org"
	SystemSNOMED              = "http://snomed.info/sct"
	SystemObservationCategory = "http://terminology.hl7.org/CodeSystem/observation-category"
)

// ObservationStatus values.
const (
	ObservationStatusRegistered  = "registered"
	ObservationStatusPreliminary = "preliminary"
	ObservationStatusFinal       = "final"
	ObservationStatusAmended     = "amended"
)

// ObservationCategory codes.
const (
	ObsCategoryVitalSigns    = "vital-signs"
	ObsCategoryLaboratory    = "laboratory"
	ObsCategorySocialHistory = "social-history"
	ObsCategoryActivity      = "activity"
)

// DeviceStatus values.
const (
	DeviceStatusActive   = "active"
	DeviceStatusInactive = "inactive"
)

// Device name types.
const (
	DeviceNameUserFriendly = "user-friendly-name"
	DeviceNameModel        = "model-name"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)
