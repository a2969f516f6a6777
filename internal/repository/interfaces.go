package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
)

// TimeQualifier selects which observations per patient a query keeps.
type TimeQualifier int

const (
	// Any keeps every matching observation.
	Any TimeQualifier = iota
	// First keeps the earliest observation per patient.
	First
	// Last keeps the latest observation per patient.
	Last
)

func (q TimeQualifier) String() string {
	switch q {
	case First:
		return "FIRST"
	case Last:
		return "LAST"
	default:
		return "ANY"
	}
}

// ObsQuery filters observations. Bounds are inclusive and optional; empty Locations or
// EncounterTypes mean no filter.
type ObsQuery struct {
	Concept        metadata.Concept
	Cohort         []int
	Locations      []int
	EncounterTypes []metadata.EncounterType
	Qualifier      TimeQualifier
	OnOrAfter      *time.Time
	OnOrBefore     *time.Time
}

// EncounterQuery selects the first encounter of a type per patient.
type EncounterQuery struct {
	EncounterType metadata.EncounterType
	Cohort        []int
	Location      int
	OnOrBefore    *time.Time
}

// All repository interfaces in one file
type (
	// ClinicalDataRepository is the read-only clinical data surface used by calculations.
	// Voided rows are never returned. Observation lists are ordered by (obs_datetime, obs_id).
	ClinicalDataRepository interface {
		Observations(ctx context.Context, q ObsQuery) (map[int][]model.Observation, error)
		FirstEncounters(ctx context.Context, q EncounterQuery) (map[int]model.Encounter, error)
	}

	PatientRepository interface {
		Demographics(ctx context.Context, cohort []int) (map[int]model.Patient, error)
		CohortAtLocation(ctx context.Context, location int, onOrBefore time.Time) ([]int, error)
	}

	MetadataRepository interface {
		ConceptIDByUUID(ctx context.Context, uuid string) (int, error)
		EncounterTypeIDByUUID(ctx context.Context, uuid string) (int, error)
	}
)

var _ metadata.Resolver = MetadataRepository(nil)
