package calculation

import (
	"context"
	"time"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository/memory"
)

const testLocation = 10

var (
	testNow  = time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	testMeta = metadata.Default()
)

func at(y int, m time.Month, day int) *time.Time {
	t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func ptr[T any](v T) *T { return &v }

// clinic builds clinical histories in a memory store.
type clinic struct {
	store  *memory.Store
	nextID int
	starts stubArtStart
}

func newClinic() *clinic {
	return &clinic{store: memory.NewStore(), nextID: 1, starts: stubArtStart{}}
}

func (c *clinic) id() int {
	c.nextID++
	return c.nextID
}

func (c *clinic) encounter(pid int, encounterType metadata.EncounterType, when *time.Time) int {
	id := c.id()
	c.store.AddEncounter(model.Encounter{
		ID:                id,
		PatientID:         pid,
		EncounterTypeID:   int(encounterType),
		LocationID:        ptr(testLocation),
		EncounterDatetime: when,
	})
	return id
}

// viralLoad records a laboratory viral load result.
func (c *clinic) viralLoad(pid int, when *time.Time, copies float64) int {
	enc := c.encounter(pid, testMeta.Lab, when)
	id := c.id()
	c.store.AddObservation(model.Observation{
		ID:           id,
		PersonID:     pid,
		ConceptID:    int(testMeta.HivViralLoad),
		EncounterID:  &enc,
		LocationID:   ptr(testLocation),
		ObsDatetime:  when,
		ValueNumeric: &copies,
	})
	return id
}

// regimen records a regimen line answer outside of any encounter so it does not move the
// patient's first follow-up date.
func (c *clinic) regimen(pid int, when *time.Time, code int) {
	c.store.AddObservation(model.Observation{
		ID:          c.id(),
		PersonID:    pid,
		ConceptID:   int(testMeta.Regimen),
		LocationID:  ptr(testLocation),
		ObsDatetime: when,
		ValueCoded:  &code,
	})
}

func (c *clinic) artStart(pid int, when *time.Time) {
	c.starts[pid] = *when
}

func (c *clinic) routine() *RoutineViralLoad {
	return NewRoutineViralLoad(c.store, c.starts, testMeta, DefaultBounds(), 4)
}

func reportingContext() model.ReportingContext {
	return model.ReportingContext{Now: testNow, LocationID: testLocation}
}

type stubArtStart map[int]time.Time

func (s stubArtStart) ArtStartDates(_ context.Context, cohort []int, _ model.ReportingContext) (map[int]time.Time, error) {
	out := make(map[int]time.Time)
	for _, id := range cohort {
		if t, ok := s[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}
