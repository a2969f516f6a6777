package calculation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
)

// ArtStartResolver resolves the ART initiation date of each patient. Patients who never
// started therapy are absent from the returned map.
type ArtStartResolver interface {
	ArtStartDates(ctx context.Context, cohort []int, rc model.ReportingContext) (map[int]time.Time, error)
}

// InitialArtStartDate takes the earliest of: an ARV plan answered START DRUGS, a historical
// drug start date, and the first pharmacy encounter. Only data recorded at the reporting
// location on or before the evaluation instant is considered.
type InitialArtStartDate struct {
	clinical repository.ClinicalDataRepository
	meta     *metadata.HivMetadata
}

func NewInitialArtStartDate(clinical repository.ClinicalDataRepository, meta *metadata.HivMetadata) *InitialArtStartDate {
	return &InitialArtStartDate{clinical: clinical, meta: meta}
}

func (a *InitialArtStartDate) ArtStartDates(ctx context.Context, cohort []int, rc model.ReportingContext) (map[int]time.Time, error) {
	now := rc.Now
	types := []metadata.EncounterType{a.meta.AdultFollowUp, a.meta.PediatricFollowUp, a.meta.Pharmacy}

	var (
		plans, historical map[int][]model.Observation
		pharmacy          map[int]model.Encounter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		plans, err = a.clinical.Observations(gctx, repository.ObsQuery{
			Concept:        a.meta.ArvPlan,
			Cohort:         cohort,
			Locations:      []int{rc.LocationID},
			EncounterTypes: types,
			OnOrBefore:     &now,
		})
		if err != nil {
			return dataAccess("arv plan observations", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		historical, err = a.clinical.Observations(gctx, repository.ObsQuery{
			Concept:        a.meta.HistoricalDrugStartDate,
			Cohort:         cohort,
			Locations:      []int{rc.LocationID},
			EncounterTypes: types,
			OnOrBefore:     &now,
		})
		if err != nil {
			return dataAccess("historical drug start date observations", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		pharmacy, err = a.clinical.FirstEncounters(gctx, repository.EncounterQuery{
			EncounterType: a.meta.Pharmacy,
			Cohort:        cohort,
			Location:      rc.LocationID,
			OnOrBefore:    &now,
		})
		if err != nil {
			return dataAccess("first pharmacy encounters", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dates := make(map[int]time.Time)
	consider := func(pid int, t *time.Time) {
		if t == nil || t.After(now) {
			return
		}
		if cur, ok := dates[pid]; !ok || t.Before(cur) {
			dates[pid] = *t
		}
	}
	for pid, list := range plans {
		for _, o := range list {
			if o.ValueCoded != nil && *o.ValueCoded == int(a.meta.StartDrugs) {
				consider(pid, o.ObsDatetime)
			}
		}
	}
	for pid, list := range historical {
		for _, o := range list {
			consider(pid, o.ValueDatetime)
		}
	}
	for pid, e := range pharmacy {
		consider(pid, e.EncounterDatetime)
	}
	return dates, nil
}

// ArtInitiated classifies patients who started ART on or before the evaluation instant.
type ArtInitiated struct {
	artStart ArtStartResolver
	workers  int
}

// ArtInitiatedDetail is the per-patient detail of ArtInitiated.
type ArtInitiatedDetail struct {
	ArtStartDate *time.Time `json:"art_start_date,omitempty"`
	MonthsOnArt  *int       `json:"months_on_art,omitempty"`
}

func NewArtInitiated(artStart ArtStartResolver, workers int) *ArtInitiated {
	return &ArtInitiated{artStart: artStart, workers: workers}
}

func (c *ArtInitiated) Name() string { return "art-initiated" }

func (c *ArtInitiated) Description() string {
	return "Patients with an ART initiation date on or before the end of the period"
}

func (c *ArtInitiated) Evaluate(ctx context.Context, cohort []int, params Params) (ResultMap, error) {
	dates, err := c.artStart.ArtStartDates(ctx, cohort, params.Context)
	if err != nil {
		return nil, err
	}
	now := params.Context.Now
	return evaluateEach(ctx, cohort, c.workers, func(pid int) Result {
		start, ok := dates[pid]
		if !ok || start.After(now) {
			return Result{Value: false, Detail: ArtInitiatedDetail{}}
		}
		months := MonthsSince(start, now)
		return Result{Value: true, Detail: ArtInitiatedDetail{ArtStartDate: &start, MonthsOnArt: &months}}
	})
}
