package model

import (
	"time"
)

// Observation is a single clinical data point from the obs table. Nullable columns are
// pointers; evaluators treat a nil value as "criterion not met".
type Observation struct {
	ID            int        `db:"obs_id" json:"id"`
	PersonID      int        `db:"person_id" json:"person_id"`
	ConceptID     int        `db:"concept_id" json:"concept_id"`
	EncounterID   *int       `db:"encounter_id" json:"encounter_id,omitempty"`
	LocationID    *int       `db:"location_id" json:"location_id,omitempty"`
	ObsDatetime   *time.Time `db:"obs_datetime" json:"obs_datetime,omitempty"`
	ValueNumeric  *float64   `db:"value_numeric" json:"value_numeric,omitempty"`
	ValueCoded    *int       `db:"value_coded" json:"value_coded,omitempty"`
	ValueDatetime *time.Time `db:"value_datetime" json:"value_datetime,omitempty"`
}

// Encounter is a clinical visit of a given type.
type Encounter struct {
	ID                int        `db:"encounter_id" json:"id"`
	PatientID         int        `db:"patient_id" json:"patient_id"`
	EncounterTypeID   int        `db:"encounter_type" json:"encounter_type"`
	LocationID        *int       `db:"location_id" json:"location_id,omitempty"`
	EncounterDatetime *time.Time `db:"encounter_datetime" json:"encounter_datetime,omitempty"`
}

// ObservedBetween reports whether the observation timestamp lies strictly between lower and upper.
func (o Observation) ObservedBetween(lower, upper time.Time) bool {
	return o.ObsDatetime != nil && o.ObsDatetime.After(lower) && o.ObsDatetime.Before(upper)
}
