// Package cohort aggregates per-patient classifications into dataset columns stratified by
// age band and sex.
package cohort

import (
	"fmt"
	"time"

	"github.com/jwalitptl/epts-reports/internal/model"
)

// AgeBand is an inclusive range of completed years. Max < 0 means no upper limit.
type AgeBand struct {
	Name string
	Min  int
	Max  int
}

func (b AgeBand) Contains(age int) bool {
	return age >= b.Min && (b.Max < 0 || age <= b.Max)
}

var (
	// BothSexBands are reported without splitting by sex.
	BothSexBands = []AgeBand{
		{Name: "<1", Min: 0, Max: 0},
		{Name: "1-9", Min: 1, Max: 9},
	}
	// SexBands are reported once for males and once for females.
	SexBands = []AgeBand{
		{Name: "10-14", Min: 10, Max: 14},
		{Name: "15-19", Min: 15, Max: 19},
		{Name: "20-24", Min: 20, Max: 24},
		{Name: "25-29", Min: 25, Max: 29},
		{Name: "30-34", Min: 30, Max: 34},
		{Name: "35-39", Min: 35, Max: 39},
		{Name: "40-49", Min: 40, Max: 49},
		{Name: "50+", Min: 50, Max: -1},
	}
)

// Column is one report cell. Denominator counts cohort patients in the stratum, Numerator
// those classified true.
type Column struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Numerator   int    `json:"numerator"`
	Denominator int    `json:"denominator"`
}

type Dataset struct {
	Columns []Column `json:"columns"`
}

// Column returns the column with key.
func (d Dataset) Column(key string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

type stratum struct {
	key    string
	label  string
	band   *AgeBand
	gender model.Gender
}

func (s stratum) matches(p model.Patient, age int, hasAge bool) bool {
	if s.band == nil {
		return true
	}
	if !hasAge || !s.band.Contains(age) {
		return false
	}
	return s.gender == model.GenderUnknown || p.Gender == s.gender
}

func strata(title string) []stratum {
	out := make([]stratum, 0, len(BothSexBands)+2*len(SexBands)+1)
	for i := range BothSexBands {
		b := &BothSexBands[i]
		out = append(out, stratum{key: b.Name, label: fmt.Sprintf("%s: %s years", title, b.Name), band: b})
	}
	for _, g := range []struct {
		gender model.Gender
		name   string
	}{{model.GenderMale, "Males"}, {model.GenderFemale, "Females"}} {
		for i := range SexBands {
			b := &SexBands[i]
			out = append(out, stratum{
				key:    string(g.gender) + b.Name,
				label:  fmt.Sprintf("%s: %s by age and sex: %s years", g.name, title, b.Name),
				band:   b,
				gender: g.gender,
			})
		}
	}
	return append(out, stratum{key: "All", label: title})
}

// Disaggregate builds the dataset for results. Ages are completed years at now. Patients
// without a birthdate only count in All; patients without a known sex count in All and in the
// bands reported for both sexes.
func Disaggregate(title string, results map[int]bool, patients map[int]model.Patient, now time.Time) Dataset {
	cols := strata(title)
	ds := Dataset{Columns: make([]Column, len(cols))}
	for i, s := range cols {
		ds.Columns[i] = Column{Key: s.key, Label: s.label}
	}

	for pid, value := range results {
		p, ok := patients[pid]
		if !ok {
			p = model.Patient{ID: pid}
		}
		age, hasAge := p.AgeAt(now)
		for i, s := range cols {
			if !s.matches(p, age, hasAge) {
				continue
			}
			ds.Columns[i].Denominator++
			if value {
				ds.Columns[i].Numerator++
			}
		}
	}
	return ds
}
