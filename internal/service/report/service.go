package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/epts-reports/internal/calculation"
	"github.com/jwalitptl/epts-reports/internal/cohort"
	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/logger"
	"github.com/jwalitptl/epts-reports/pkg/messaging"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

type ReportServicer interface {
	ListCalculations() []CalculationInfo
	Evaluate(ctx context.Context, req EvaluateRequest) (*Report, error)
}

type CalculationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type EvaluateRequest struct {
	Calculation string
	LocationID  int
	EndDate     time.Time
	// Cohort defaults to every patient seen at the location up to EndDate.
	Cohort          []int
	Bounds          *calculation.BoundsOverride
	IncludePatients bool
}

type Report struct {
	RunID       uuid.UUID            `json:"run_id"`
	Calculation string               `json:"calculation"`
	LocationID  int                  `json:"location_id"`
	EndDate     time.Time            `json:"end_date"`
	Bounds      calculation.Bounds   `json:"bounds"`
	Denominator int                  `json:"denominator"`
	Numerator   int                  `json:"numerator"`
	Columns     []cohort.Column      `json:"columns"`
	Patients    []calculation.Result `json:"patients,omitempty"`
	Cached      bool                 `json:"cached"`
	DurationMS  int64                `json:"duration_ms"`
}

// RunSummary is published after every computed run.
type RunSummary struct {
	RunID       uuid.UUID `json:"run_id"`
	Calculation string    `json:"calculation"`
	LocationID  int       `json:"location_id"`
	EndDate     time.Time `json:"end_date"`
	Denominator int       `json:"denominator"`
	Numerator   int       `json:"numerator"`
	DurationMS  int64     `json:"duration_ms"`
}

type Config struct {
	Bounds          calculation.Bounds
	Channel         string
	CacheTTL        time.Duration
	CleanupInterval time.Duration
}

type Service struct {
	registry  *calculation.Registry
	patients  repository.PatientRepository
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cache     *cache.Cache
	cfg       Config
}

func NewService(registry *calculation.Registry, patients repository.PatientRepository, publisher messaging.Publisher, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Service{
		registry:  registry,
		patients:  patients,
		publisher: publisher,
		metrics:   m,
		logger:    log,
		cache:     cache.New(cfg.CacheTTL, cfg.CleanupInterval),
		cfg:       cfg,
	}
}

func (s *Service) ListCalculations() []CalculationInfo {
	calcs := s.registry.List()
	out := make([]CalculationInfo, len(calcs))
	for i, c := range calcs {
		out[i] = CalculationInfo{Name: c.Name(), Description: c.Description()}
	}
	return out
}

func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*Report, error) {
	calc, err := s.registry.Get(req.Calculation)
	if err != nil {
		return nil, err
	}
	if req.LocationID <= 0 {
		return nil, apperrors.BadRequest("location_id is required", nil)
	}
	if req.EndDate.IsZero() {
		return nil, apperrors.BadRequest("end_date is required", nil)
	}
	bounds := req.Bounds.Apply(s.cfg.Bounds)
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	cohortIDs := req.Cohort
	if len(cohortIDs) == 0 {
		cohortIDs, err = s.patients.CohortAtLocation(ctx, req.LocationID, req.EndDate)
		if err != nil {
			return nil, apperrors.DataAccess("cohort at location", err)
		}
	}
	cohortIDs = normalize(cohortIDs)

	key := fingerprint(calc.Name(), req.LocationID, req.EndDate, bounds, cohortIDs)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.CalculationCacheHit.WithLabelValues(calc.Name()).Inc()
		report := *cached.(*Report)
		report.Cached = true
		return view(&report, req.IncludePatients), nil
	}

	start := time.Now()
	report, err := s.run(ctx, calc, req, bounds, cohortIDs)
	duration := time.Since(start)
	s.metrics.CalculationRuns.WithLabelValues(calc.Name(), metrics.Status(err)).Inc()
	s.metrics.CalculationLatency.WithLabelValues(calc.Name()).Observe(duration.Seconds())
	if err != nil {
		s.logger.Error(err, "calculation run failed",
			"calculation", calc.Name(),
			"location_id", req.LocationID,
			"cohort_size", len(cohortIDs),
			"data_access", apperrors.IsDataAccess(err),
		)
		return nil, err
	}
	report.DurationMS = duration.Milliseconds()

	s.metrics.CalculationPatients.WithLabelValues(calc.Name(), "true").Add(float64(report.Numerator))
	s.metrics.CalculationPatients.WithLabelValues(calc.Name(), "false").Add(float64(report.Denominator - report.Numerator))
	s.cache.SetDefault(key, report)
	s.logger.Info("calculation run completed",
		"run_id", report.RunID.String(),
		"calculation", report.Calculation,
		"location_id", report.LocationID,
		"end_date", report.EndDate.Format(time.RFC3339),
		"denominator", report.Denominator,
		"numerator", report.Numerator,
		"duration_ms", report.DurationMS,
	)
	s.publish(ctx, report)

	return view(report, req.IncludePatients), nil
}

func (s *Service) run(ctx context.Context, calc calculation.Calculation, req EvaluateRequest, bounds calculation.Bounds, cohortIDs []int) (*Report, error) {
	params := calculation.Params{
		Context: reportingContext(req),
		Bounds:  &bounds,
	}
	results, err := calc.Evaluate(ctx, cohortIDs, params)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", calc.Name(), err)
	}

	demographics, err := s.patients.Demographics(ctx, cohortIDs)
	if err != nil {
		return nil, apperrors.DataAccess("demographics", err)
	}
	dataset := cohort.Disaggregate(calc.Name(), results.Booleans(), demographics, req.EndDate)

	return &Report{
		RunID:       uuid.New(),
		Calculation: calc.Name(),
		LocationID:  req.LocationID,
		EndDate:     req.EndDate,
		Bounds:      bounds,
		Denominator: len(results),
		Numerator:   results.Numerator(),
		Columns:     dataset.Columns,
		Patients:    results.Sorted(),
	}, nil
}

func (s *Service) publish(ctx context.Context, r *Report) {
	summary := RunSummary{
		RunID:       r.RunID,
		Calculation: r.Calculation,
		LocationID:  r.LocationID,
		EndDate:     r.EndDate,
		Denominator: r.Denominator,
		Numerator:   r.Numerator,
		DurationMS:  r.DurationMS,
	}
	err := s.publisher.Publish(ctx, s.cfg.Channel, summary)
	s.metrics.RedisOperations.WithLabelValues("publish", metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Warn("failed to publish run summary", "run_id", r.RunID.String(), "error", err.Error())
	}
}

// view returns a copy of r without the per-patient results unless they were requested.
func view(r *Report, includePatients bool) *Report {
	out := *r
	if !includePatients {
		out.Patients = nil
	}
	return &out
}

func normalize(ids []int) []int {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func fingerprint(name string, location int, endDate time.Time, b calculation.Bounds, cohortIDs []int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%d|%s|%d,%d,%d,%d,%d|", name, location, endDate.UTC().Format(time.RFC3339Nano),
		b.MonthsOnArt, b.ArtLowerLimit1, b.ArtUpperLimit1, b.ArtLowerLimit2, b.ArtUpperLimit2)
	for _, id := range cohortIDs {
		sb.WriteString(strconv.Itoa(id))
		sb.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func reportingContext(req EvaluateRequest) model.ReportingContext {
	return model.ReportingContext{Now: req.EndDate, LocationID: req.LocationID}
}
