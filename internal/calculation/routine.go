package calculation

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
)

// RoutineViralLoadName is the registry name of RoutineViralLoad.
const RoutineViralLoadName = "pvls-routine"

// RoutineViralLoad classifies patients on ART whose most recent viral load in the last
// 12 months was taken on the routine monitoring schedule.
type RoutineViralLoad struct {
	clinical repository.ClinicalDataRepository
	artStart ArtStartResolver
	meta     *metadata.HivMetadata
	bounds   Bounds
	workers  int
}

func NewRoutineViralLoad(clinical repository.ClinicalDataRepository, artStart ArtStartResolver, meta *metadata.HivMetadata, bounds Bounds, workers int) *RoutineViralLoad {
	return &RoutineViralLoad{
		clinical: clinical,
		artStart: artStart,
		meta:     meta,
		bounds:   bounds,
		workers:  workers,
	}
}

func (c *RoutineViralLoad) Name() string { return RoutineViralLoadName }

func (c *RoutineViralLoad) Description() string {
	return "Patients on ART with a viral load in the last 12 months taken on the routine monitoring schedule"
}

// Bounds returns the configured bounds.
func (c *RoutineViralLoad) Bounds() Bounds { return c.bounds }

// RoutineCriteria explains the classification of one patient.
type RoutineCriteria struct {
	ArtStartDate      *time.Time `json:"art_start_date,omitempty"`
	LastViralLoadDate *time.Time `json:"last_viral_load_date,omitempty"`
	SwitchDate        *time.Time `json:"switch_date,omitempty"`

	HasArtStart           bool `json:"has_art_start"`
	MonthsOnArtMet        bool `json:"months_on_art_met"`
	LastViralLoadInWindow bool `json:"last_viral_load_in_window"`
	ViralLoadsInWindow    int  `json:"viral_loads_in_window"`

	// EarlyPostInitiation: a viral load taken in the first monitoring window after ART start.
	EarlyPostInitiation bool `json:"early_post_initiation"`
	// SuppressedInterval: a suppressed result followed by the next viral load in the second window.
	SuppressedInterval bool `json:"suppressed_interval"`
	// RegimenSwitch: the first regimen line answer is a line change dated before the last viral load.
	RegimenSwitch bool `json:"regimen_switch"`
	// RegimenSwitchExcluded: another viral load lies between the switch and the last viral load.
	RegimenSwitchExcluded bool `json:"regimen_switch_excluded"`

	Evaluation bool `json:"evaluation"`
}

type routineInputs struct {
	// viralLoads is the full viral-load history up to the evaluation instant.
	viralLoads   map[int][]model.Observation
	lastVl       map[int][]model.Observation
	firstRegimen map[int][]model.Observation
	adult        map[int]model.Encounter
	pediatric    map[int]model.Encounter
	artStart     map[int]time.Time
}

// patientInputs is the slice of routineInputs belonging to one patient.
type patientInputs struct {
	viralLoads   []model.Observation
	lastVl       *model.Observation
	firstRegimen *model.Observation
	adult        *model.Encounter
	pediatric    *model.Encounter
	artStart     *time.Time
}

func (in *routineInputs) forPatient(pid int) patientInputs {
	p := patientInputs{viralLoads: in.viralLoads[pid]}
	if list := in.lastVl[pid]; len(list) > 0 {
		p.lastVl = &list[len(list)-1]
	}
	if list := in.firstRegimen[pid]; len(list) > 0 {
		p.firstRegimen = &list[0]
	}
	if e, ok := in.adult[pid]; ok {
		p.adult = &e
	}
	if e, ok := in.pediatric[pid]; ok {
		p.pediatric = &e
	}
	if t, ok := in.artStart[pid]; ok {
		p.artStart = &t
	}
	return p
}

func (c *RoutineViralLoad) Evaluate(ctx context.Context, cohort []int, params Params) (ResultMap, error) {
	bounds := c.bounds
	if params.Bounds != nil {
		bounds = *params.Bounds
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	cohort = distinct(cohort)
	in, err := c.fetch(ctx, cohort, params.Context)
	if err != nil {
		return nil, err
	}

	now := params.Context.Now
	lower := AddMonths(now, -LookbackMonths)
	return evaluateEach(ctx, cohort, c.workers, func(pid int) Result {
		crit := evaluateRoutine(in.forPatient(pid), now, lower, bounds, c.meta)
		return Result{Value: crit.Evaluation, Detail: crit}
	})
}

func (c *RoutineViralLoad) fetch(ctx context.Context, cohort []int, rc model.ReportingContext) (*routineInputs, error) {
	now := rc.Now
	lower := AddMonths(now, -LookbackMonths)
	locations := []int{rc.LocationID}
	in := &routineInputs{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.viralLoads, err = c.clinical.Observations(gctx, repository.ObsQuery{
			Concept:    c.meta.HivViralLoad,
			Cohort:     cohort,
			Locations:  locations,
			Qualifier:  repository.Any,
			OnOrBefore: &now,
		})
		if err != nil {
			return dataAccess("viral load observations", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		in.lastVl, err = c.clinical.Observations(gctx, repository.ObsQuery{
			Concept:        c.meta.HivViralLoad,
			Cohort:         cohort,
			Locations:      locations,
			EncounterTypes: []metadata.EncounterType{c.meta.Lab},
			Qualifier:      repository.Last,
			OnOrAfter:      &lower,
			OnOrBefore:     &now,
		})
		if err != nil {
			return dataAccess("last laboratory viral load", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		in.firstRegimen, err = c.clinical.Observations(gctx, repository.ObsQuery{
			Concept:   c.meta.Regimen,
			Cohort:    cohort,
			Locations: locations,
			Qualifier: repository.First,
		})
		if err != nil {
			return dataAccess("first regimen observations", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		in.adult, err = c.clinical.FirstEncounters(gctx, repository.EncounterQuery{
			EncounterType: c.meta.AdultFollowUp,
			Cohort:        cohort,
			Location:      rc.LocationID,
			OnOrBefore:    &now,
		})
		if err != nil {
			return dataAccess("first adult follow-up encounters", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		in.pediatric, err = c.clinical.FirstEncounters(gctx, repository.EncounterQuery{
			EncounterType: c.meta.PediatricFollowUp,
			Cohort:        cohort,
			Location:      rc.LocationID,
			OnOrBefore:    &now,
		})
		if err != nil {
			return dataAccess("first pediatric follow-up encounters", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		in.artStart, err = c.artStart.ArtStartDates(gctx, cohort, rc)
		if err != nil {
			return dataAccess("art start dates", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// evaluateRoutine classifies one patient. It only reads p.
func evaluateRoutine(p patientInputs, now, lower time.Time, b Bounds, meta *metadata.HivMetadata) *RoutineCriteria {
	crit := &RoutineCriteria{ArtStartDate: p.artStart}
	if p.lastVl != nil {
		crit.LastViralLoadDate = p.lastVl.ObsDatetime
	}

	crit.HasArtStart = p.artStart != nil
	if !crit.HasArtStart {
		return crit
	}
	crit.MonthsOnArtMet = b.MonthsOnArt <= 0 || MonthsSince(*p.artStart, now) >= b.MonthsOnArt
	crit.LastViralLoadInWindow = p.lastVl != nil && p.lastVl.ObservedBetween(lower, now)
	if !crit.MonthsOnArtMet || !crit.LastViralLoadInWindow {
		return crit
	}

	inWindow := make([]model.Observation, 0, len(p.viralLoads))
	for _, o := range p.viralLoads {
		if o.ObservedBetween(lower, now) {
			inWindow = append(inWindow, o)
		}
	}
	crit.ViralLoadsInWindow = len(inWindow)

	crit.EarlyPostInitiation = earlyPostInitiation(inWindow, *p.artStart, b)
	crit.SuppressedInterval = suppressedInterval(p.viralLoads, lower, now, b)

	if !crit.EarlyPostInitiation && !crit.SuppressedInterval && len(inWindow) > 0 {
		latestVl := *p.lastVl.ObsDatetime
		crit.SwitchDate = switchDate(p.adult, p.pediatric)
		crit.RegimenSwitch = regimenSwitch(p.firstRegimen, crit.SwitchDate, latestVl, meta)
		if crit.RegimenSwitch {
			crit.RegimenSwitchExcluded = viralLoadBetween(p.viralLoads, *crit.SwitchDate, latestVl)
		}
	}

	crit.Evaluation = crit.EarlyPostInitiation ||
		crit.SuppressedInterval ||
		(crit.RegimenSwitch && !crit.RegimenSwitchExcluded)
	return crit
}

// earlyPostInitiation holds when any viral load was taken more than ArtLowerLimit1 and at
// most ArtUpperLimit1 months after ART start.
func earlyPostInitiation(viralLoads []model.Observation, artStart time.Time, b Bounds) bool {
	for _, o := range viralLoads {
		if o.ObsDatetime == nil {
			continue
		}
		months := MonthsSince(artStart, *o.ObsDatetime)
		if months > b.ArtLowerLimit1 && months <= b.ArtUpperLimit1 {
			return true
		}
	}
	return false
}

// suppressedInterval compares the last two viral loads of the history by observation id. The
// later one must fall in the lookback window; the earlier one must be suppressed and precede it
// by ArtLowerLimit2 to ArtUpperLimit2 months.
func suppressedInterval(history []model.Observation, lower, now time.Time, b Bounds) bool {
	if len(history) < 2 {
		return false
	}
	sorted := make([]model.Observation, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	current, previous := sorted[len(sorted)-1], sorted[len(sorted)-2]
	if !current.ObservedBetween(lower, now) {
		return false
	}
	if previous.ValueNumeric == nil || *previous.ValueNumeric >= SuppressionThreshold {
		return false
	}
	if previous.ObsDatetime == nil || current.ObsDatetime == nil || !previous.ObsDatetime.Before(*current.ObsDatetime) {
		return false
	}
	months := MonthsSince(*previous.ObsDatetime, *current.ObsDatetime)
	return months >= b.ArtLowerLimit2 && months <= b.ArtUpperLimit2
}

// switchDate is the first adult follow-up encounter date, else the first pediatric one.
func switchDate(adult, pediatric *model.Encounter) *time.Time {
	if adult != nil && adult.EncounterDatetime != nil {
		return adult.EncounterDatetime
	}
	if pediatric != nil {
		return pediatric.EncounterDatetime
	}
	return nil
}

func regimenSwitch(regimen *model.Observation, switchDate *time.Time, latestVl time.Time, meta *metadata.HivMetadata) bool {
	if regimen == nil || switchDate == nil || regimen.ObsDatetime == nil || regimen.ValueCoded == nil {
		return false
	}
	return regimen.ObsDatetime.Before(latestVl) && meta.IsRegimenLineChange(*regimen.ValueCoded)
}

func viralLoadBetween(viralLoads []model.Observation, from, to time.Time) bool {
	for _, o := range viralLoads {
		if o.ObservedBetween(from, to) {
			return true
		}
	}
	return false
}
