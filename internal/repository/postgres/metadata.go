package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/epts-reports/internal/repository"
	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

type metadataRepository struct {
	BaseRepository
}

func NewMetadataRepository(db *sqlx.DB, m *metrics.Metrics) repository.MetadataRepository {
	return &metadataRepository{BaseRepository: NewBaseRepository(db, m)}
}

func (r *metadataRepository) ConceptIDByUUID(ctx context.Context, uuid string) (int, error) {
	return r.idByUUID(ctx, "concept", `SELECT concept_id FROM concept WHERE uuid = $1 AND retired = false`, uuid)
}

func (r *metadataRepository) EncounterTypeIDByUUID(ctx context.Context, uuid string) (int, error) {
	return r.idByUUID(ctx, "encounter type", `SELECT encounter_type_id FROM encounter_type WHERE uuid = $1 AND retired = false`, uuid)
}

func (r *metadataRepository) idByUUID(ctx context.Context, kind, query, uuid string) (int, error) {
	var id int
	err := r.getContext(ctx, "metadata_lookup", &id, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NotFound(kind+" "+uuid, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s %s: %w", kind, uuid, err)
	}
	return id, nil
}
