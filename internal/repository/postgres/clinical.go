package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

type clinicalDataRepository struct {
	BaseRepository
}

func NewClinicalDataRepository(db *sqlx.DB, m *metrics.Metrics) repository.ClinicalDataRepository {
	return &clinicalDataRepository{BaseRepository: NewBaseRepository(db, m)}
}

func (r *clinicalDataRepository) Observations(ctx context.Context, q repository.ObsQuery) (map[int][]model.Observation, error) {
	result := make(map[int][]model.Observation)
	if len(q.Cohort) == 0 {
		return result, nil
	}

	query, args := buildObsQuery(q)
	var rows []model.Observation
	if err := r.selectContext(ctx, "observations", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query observations for concept %d: %w", q.Concept, err)
	}
	for _, o := range rows {
		result[o.PersonID] = append(result[o.PersonID], o)
	}
	return result, nil
}

func (r *clinicalDataRepository) FirstEncounters(ctx context.Context, q repository.EncounterQuery) (map[int]model.Encounter, error) {
	result := make(map[int]model.Encounter)
	if len(q.Cohort) == 0 {
		return result, nil
	}

	query, args := buildFirstEncounterQuery(q)
	var rows []model.Encounter
	if err := r.selectContext(ctx, "first_encounters", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query first encounters of type %d: %w", q.EncounterType, err)
	}
	for _, e := range rows {
		result[e.PatientID] = e
	}
	return result, nil
}

// args accumulates positional parameters and hands out their placeholders.
type args []interface{}

func (a *args) add(v interface{}) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func buildObsQuery(q repository.ObsQuery) (string, []interface{}) {
	var a args
	where := []string{
		"o.voided = false",
		"o.concept_id = " + a.add(int(q.Concept)),
		"o.person_id = ANY(" + a.add(pq.Array(int64s(q.Cohort))) + ")",
	}
	join := ""
	if len(q.EncounterTypes) > 0 {
		join = "JOIN encounter e ON e.encounter_id = o.encounter_id AND e.voided = false"
		where = append(where, "e.encounter_type = ANY("+a.add(pq.Array(encounterTypeIDs(q.EncounterTypes)))+")")
	}
	if len(q.Locations) > 0 {
		where = append(where, "o.location_id = ANY("+a.add(pq.Array(int64s(q.Locations)))+")")
	}
	if q.OnOrAfter != nil {
		where = append(where, "o.obs_datetime >= "+a.add(*q.OnOrAfter))
	}
	if q.OnOrBefore != nil {
		where = append(where, "o.obs_datetime <= "+a.add(*q.OnOrBefore))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	switch q.Qualifier {
	case repository.First, repository.Last:
		sb.WriteString("DISTINCT ON (o.person_id) ")
	}
	sb.WriteString(`o.obs_id, o.person_id, o.concept_id, o.encounter_id, o.location_id,
		o.obs_datetime, o.value_numeric, o.value_coded, o.value_datetime
		FROM obs o `)
	if join != "" {
		sb.WriteString(join)
		sb.WriteString(" ")
	}
	sb.WriteString("WHERE ")
	sb.WriteString(strings.Join(where, " AND "))
	switch q.Qualifier {
	case repository.First:
		sb.WriteString(" ORDER BY o.person_id, o.obs_datetime ASC, o.obs_id ASC")
	case repository.Last:
		sb.WriteString(" ORDER BY o.person_id, o.obs_datetime DESC NULLS LAST, o.obs_id DESC")
	default:
		sb.WriteString(" ORDER BY o.person_id, o.obs_datetime ASC, o.obs_id ASC")
	}
	return sb.String(), a
}

func buildFirstEncounterQuery(q repository.EncounterQuery) (string, []interface{}) {
	var a args
	where := []string{
		"e.voided = false",
		"e.encounter_type = " + a.add(int(q.EncounterType)),
		"e.location_id = " + a.add(q.Location),
		"e.patient_id = ANY(" + a.add(pq.Array(int64s(q.Cohort))) + ")",
	}
	if q.OnOrBefore != nil {
		where = append(where, "e.encounter_datetime <= "+a.add(*q.OnOrBefore))
	}
	query := `SELECT DISTINCT ON (e.patient_id)
		e.encounter_id, e.patient_id, e.encounter_type, e.location_id, e.encounter_datetime
		FROM encounter e
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.patient_id, e.encounter_datetime ASC, e.encounter_id ASC`
	return query, a
}

func encounterTypeIDs(types []metadata.EncounterType) []int64 {
	ids := make([]int64, len(types))
	for i, t := range types {
		ids[i] = int64(t)
	}
	return ids
}

func int64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
