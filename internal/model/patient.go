package model

import (
	"strings"
	"time"
)

type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = ""
)

// ParseGender normalises the person.gender column.
func ParseGender(s string) Gender {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// Patient carries the demographics needed for disaggregation.
type Patient struct {
	ID        int        `db:"person_id" json:"id"`
	Gender    Gender     `db:"gender" json:"gender"`
	Birthdate *time.Time `db:"birthdate" json:"birthdate,omitempty"`
}

// AgeAt returns the age in completed years at t. ok is false when the birthdate is unknown
// or after t.
func (p Patient) AgeAt(t time.Time) (age int, ok bool) {
	if p.Birthdate == nil || p.Birthdate.After(t) {
		return 0, false
	}
	b := *p.Birthdate
	age = t.Year() - b.Year()
	if t.Month() < b.Month() || (t.Month() == b.Month() && t.Day() < b.Day()) {
		age--
	}
	return age, true
}
