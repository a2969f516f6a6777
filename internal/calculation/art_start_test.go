package calculation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository/memory"
	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
)

func (c *clinic) coded(pid int, encounterType metadata.EncounterType, concept metadata.Concept, when *time.Time, answer int) {
	enc := c.encounter(pid, encounterType, when)
	c.store.AddObservation(model.Observation{
		ID: c.id(), PersonID: pid, ConceptID: int(concept), EncounterID: &enc,
		LocationID: ptr(testLocation), ObsDatetime: when, ValueCoded: &answer,
	})
}

func (c *clinic) dated(pid int, encounterType metadata.EncounterType, concept metadata.Concept, when, value *time.Time) {
	enc := c.encounter(pid, encounterType, when)
	c.store.AddObservation(model.Observation{
		ID: c.id(), PersonID: pid, ConceptID: int(concept), EncounterID: &enc,
		LocationID: ptr(testLocation), ObsDatetime: when, ValueDatetime: value,
	})
}

func TestInitialArtStartDate(t *testing.T) {
	c := newClinic()
	startDrugs := int(testMeta.StartDrugs)

	c.coded(1, testMeta.AdultFollowUp, testMeta.ArvPlan, at(2020, 5, 1), startDrugs)
	c.dated(1, testMeta.Pharmacy, testMeta.HistoricalDrugStartDate, at(2021, 1, 1), at(2019, 12, 1))

	c.coded(2, testMeta.AdultFollowUp, testMeta.ArvPlan, at(2020, 5, 1), 1257)
	c.encounter(2, testMeta.Pharmacy, at(2022, 2, 2))

	c.encounter(3, testMeta.Pharmacy, at(2024, 7, 1))
	c.dated(3, testMeta.AdultFollowUp, testMeta.HistoricalDrugStartDate, at(2024, 1, 1), at(2024, 8, 1))

	c.coded(4, testMeta.Lab, testMeta.ArvPlan, at(2018, 1, 1), startDrugs)

	c.coded(5, testMeta.PediatricFollowUp, testMeta.ArvPlan, at(2016, 3, 3), startDrugs)

	dates, err := NewInitialArtStartDate(c.store, testMeta).ArtStartDates(context.Background(), []int{1, 2, 3, 4, 5}, reportingContext())
	require.NoError(t, err)

	assert.Equal(t, *at(2019, 12, 1), dates[1])
	assert.Equal(t, *at(2022, 2, 2), dates[2])
	assert.NotContains(t, dates, 3)
	assert.NotContains(t, dates, 4)
	assert.Equal(t, *at(2016, 3, 3), dates[5])
}

func TestInitialArtStartDateDataAccess(t *testing.T) {
	_, err := NewInitialArtStartDate(failingClinicalData{}, testMeta).ArtStartDates(context.Background(), []int{1}, reportingContext())
	require.Error(t, err)
	assert.True(t, apperrors.IsDataAccess(err))
}

func TestArtInitiated(t *testing.T) {
	starts := stubArtStart{1: *at(2023, 3, 15), 2: *at(2024, 7, 1)}
	calc := NewArtInitiated(starts, 2)

	results, err := calc.Evaluate(context.Background(), []int{1, 2, 3}, Params{Context: reportingContext()})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.True(t, results[1].Value)
	detail := results[1].Detail.(ArtInitiatedDetail)
	assert.Equal(t, 15, *detail.MonthsOnArt)
	assert.False(t, results[2].Value, "start after the evaluation instant")
	assert.False(t, results[3].Value)
	assert.Equal(t, 1, results.Numerator())
}

func TestRegistry(t *testing.T) {
	c := newClinic()
	reg := NewRegistry(c.routine(), NewArtInitiated(c.starts, 1))

	got, err := reg.Get(RoutineViralLoadName)
	require.NoError(t, err)
	assert.Equal(t, "pvls-routine", got.Name())

	_, err = reg.Get("tx-new")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	names := []string{}
	for _, calc := range reg.List() {
		names = append(names, calc.Name())
	}
	assert.Equal(t, []string{"art-initiated", "pvls-routine"}, names)
}

func TestBoundsOverride(t *testing.T) {
	var none *BoundsOverride
	assert.Equal(t, DefaultBounds(), none.Apply(DefaultBounds()))

	o := &BoundsOverride{ArtUpperLimit1: ptr(10), MonthsOnArt: ptr(3)}
	b := o.Apply(DefaultBounds())
	assert.Equal(t, Bounds{MonthsOnArt: 3, ArtLowerLimit1: 6, ArtUpperLimit1: 10, ArtLowerLimit2: 12, ArtUpperLimit2: 15}, b)
	assert.NoError(t, b.Validate())

	b.ArtLowerLimit1 = -1
	assert.Error(t, b.Validate())
}

func TestStandardRegistry(t *testing.T) {
	reg := Standard(memory.NewStore(), testMeta, DefaultBounds(), 2)

	names := []string{}
	for _, calc := range reg.List() {
		names = append(names, calc.Name())
	}
	assert.Equal(t, []string{"art-initiated", "pvls-routine"}, names)

	calc, err := reg.Get(RoutineViralLoadName)
	require.NoError(t, err)
	assert.Equal(t, DefaultBounds(), calc.(*RoutineViralLoad).Bounds())
}
