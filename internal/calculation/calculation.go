// Package calculation classifies the patients of a cohort for one reporting context.
//
// A calculation fetches everything it needs in a few batched queries and then evaluates each
// patient independently. Missing or malformed clinical data makes a criterion false; a failing
// data source aborts the whole run with a data-access error.
package calculation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
)

// Params are the inputs of one evaluation run.
type Params struct {
	Context model.ReportingContext
	// Bounds overrides the calculation's configured bounds when set.
	Bounds *Bounds
}

// Result is the classification of one patient.
type Result struct {
	PatientID int         `json:"patient_id"`
	Value     bool        `json:"value"`
	Detail    interface{} `json:"detail,omitempty"`
}

// ResultMap holds one Result per cohort patient.
type ResultMap map[int]Result

// Numerator counts patients classified true.
func (m ResultMap) Numerator() int {
	n := 0
	for _, r := range m {
		if r.Value {
			n++
		}
	}
	return n
}

// Booleans drops the per-patient detail.
func (m ResultMap) Booleans() map[int]bool {
	out := make(map[int]bool, len(m))
	for id, r := range m {
		out[id] = r.Value
	}
	return out
}

// Sorted returns the results ordered by patient id.
func (m ResultMap) Sorted() []Result {
	out := make([]Result, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out
}

// Calculation classifies every patient of a cohort.
type Calculation interface {
	Name() string
	Description() string
	Evaluate(ctx context.Context, cohort []int, params Params) (ResultMap, error)
}

// Registry maps calculation names to implementations.
type Registry struct {
	calculations map[string]Calculation
}

func NewRegistry(calcs ...Calculation) *Registry {
	r := &Registry{calculations: make(map[string]Calculation, len(calcs))}
	for _, c := range calcs {
		r.calculations[c.Name()] = c
	}
	return r
}

func (r *Registry) Get(name string) (Calculation, error) {
	c, ok := r.calculations[name]
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("calculation %q", name), nil)
	}
	return c, nil
}

// List returns the registered calculations ordered by name.
func (r *Registry) List() []Calculation {
	out := make([]Calculation, 0, len(r.calculations))
	for _, c := range r.calculations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// evaluateEach runs fn for every distinct patient of cohort with at most workers goroutines.
// fn must only read shared inputs.
func evaluateEach(ctx context.Context, cohort []int, workers int, fn func(patientID int) Result) (ResultMap, error) {
	ids := distinct(cohort)
	results := make([]Result, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := fn(id)
			r.PatientID = id
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(ResultMap, len(ids))
	for _, r := range results {
		out[r.PatientID] = r
	}
	return out, nil
}

func distinct(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// dataAccess marks repository failures so callers abort the run. Cancellation passes through.
func dataAccess(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.DataAccess(op, err)
}

// Standard builds the registry served by the API and the evaluate command.
func Standard(clinical repository.ClinicalDataRepository, meta *metadata.HivMetadata, bounds Bounds, workers int) *Registry {
	artStart := NewInitialArtStartDate(clinical, meta)
	return NewRegistry(
		NewRoutineViralLoad(clinical, artStart, meta, bounds, workers),
		NewArtInitiated(artStart, workers),
	)
}
