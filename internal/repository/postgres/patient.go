package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(db *sqlx.DB, m *metrics.Metrics) repository.PatientRepository {
	return &patientRepository{BaseRepository: NewBaseRepository(db, m)}
}

type personRow struct {
	PersonID  int            `db:"person_id"`
	Gender    sql.NullString `db:"gender"`
	Birthdate *time.Time     `db:"birthdate"`
}

func (r *patientRepository) Demographics(ctx context.Context, cohort []int) (map[int]model.Patient, error) {
	result := make(map[int]model.Patient, len(cohort))
	if len(cohort) == 0 {
		return result, nil
	}

	query := `SELECT person_id, gender, birthdate FROM person WHERE voided = false AND person_id = ANY($1)`
	var rows []personRow
	if err := r.selectContext(ctx, "demographics", &rows, query, pq.Array(int64s(cohort))); err != nil {
		return nil, fmt.Errorf("failed to get demographics: %w", err)
	}
	for _, row := range rows {
		result[row.PersonID] = model.Patient{
			ID:        row.PersonID,
			Gender:    model.ParseGender(row.Gender.String),
			Birthdate: row.Birthdate,
		}
	}
	return result, nil
}

func (r *patientRepository) CohortAtLocation(ctx context.Context, location int, onOrBefore time.Time) ([]int, error) {
	query := `
		SELECT DISTINCT e.patient_id
		FROM encounter e
		JOIN patient p ON p.patient_id = e.patient_id AND p.voided = false
		WHERE e.voided = false AND e.location_id = $1 AND e.encounter_datetime <= $2
		ORDER BY e.patient_id
	`
	var ids []int
	if err := r.selectContext(ctx, "cohort_at_location", &ids, query, location, onOrBefore); err != nil {
		return nil, fmt.Errorf("failed to list patients at location %d: %w", location, err)
	}
	return ids, nil
}
