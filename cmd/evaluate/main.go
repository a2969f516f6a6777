package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/epts-reports/internal/calculation"
	"github.com/jwalitptl/epts-reports/internal/config"
	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/repository"
	"github.com/jwalitptl/epts-reports/internal/repository/memory"
	"github.com/jwalitptl/epts-reports/internal/repository/postgres"
	reportService "github.com/jwalitptl/epts-reports/internal/service/report"
	"github.com/jwalitptl/epts-reports/pkg/logger"
	"github.com/jwalitptl/epts-reports/pkg/messaging"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configDir       string
	fixture         string
	calculation     string
	location        int
	endDate         string
	cohort          []int
	includePatients bool
}

// sources are the data access dependencies of one run.
type sources struct {
	clinical repository.ClinicalDataRepository
	patients repository.PatientRepository
	resolver metadata.Resolver
	close    func() error
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "evaluate",
		Short:         "Evaluate an EPTS report calculation for one location and end date",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), opts, stdout, stderr)
			if err != nil {
				fmt.Fprintln(stderr, "error:", err)
			}
			return err
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configDir, "config", "", "Directory holding config.yml")
	flags.StringVar(&opts.fixture, "fixture", "", "Evaluate against a JSON fixture instead of the database")
	flags.StringVar(&opts.calculation, "calculation", calculation.RoutineViralLoadName, "Calculation name")
	flags.IntVar(&opts.location, "location", 0, "Location id")
	flags.StringVar(&opts.endDate, "end-date", "", "Reporting end date (YYYY-MM-DD)")
	flags.IntSliceVar(&opts.cohort, "cohort", nil, "Patient ids to evaluate; defaults to every patient seen at the location")
	flags.BoolVar(&opts.includePatients, "include-patients", false, "Include per-patient results")
	_ = root.MarkFlagRequired("location")
	_ = root.MarkFlagRequired("end-date")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the available calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, calc := range calculation.Standard(memory.NewStore(), metadata.Default(), calculation.DefaultBounds(), 1).List() {
				fmt.Fprintf(stdout, "%s\t%s\n", calc.Name(), calc.Description())
			}
			return nil
		},
	})

	return root
}

func run(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	endDate, err := time.Parse(time.DateOnly, opts.endDate)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", opts.endDate, err)
	}

	var paths []string
	if opts.configDir != "" {
		paths = append(paths, opts.configDir)
	}
	cfg, err := config.LoadConfig(paths...)
	if err != nil {
		return err
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     stderr,
		JSON:       cfg.Log.JSON,
	})
	m := metrics.NewMetrics(prometheus.NewRegistry(), "epts", "evaluate")

	src, err := openSources(ctx, cfg, opts.fixture, m)
	if err != nil {
		return err
	}
	defer src.close()

	meta, err := metadata.Load(ctx, cfg.Metadata, src.resolver)
	if err != nil {
		return err
	}

	bounds := calculation.Bounds(cfg.Calculation.Bounds)
	svc := reportService.NewService(
		calculation.Standard(src.clinical, meta, bounds, cfg.Calculation.Workers),
		src.patients,
		messaging.NopPublisher{},
		m,
		log,
		reportService.Config{Bounds: bounds, CacheTTL: time.Minute, CleanupInterval: time.Minute},
	)

	report, err := svc.Evaluate(ctx, reportService.EvaluateRequest{
		Calculation:     opts.calculation,
		LocationID:      opts.location,
		EndDate:         endDate,
		Cohort:          opts.cohort,
		IncludePatients: opts.includePatients,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func openSources(ctx context.Context, cfg *config.Config, fixture string, m *metrics.Metrics) (*sources, error) {
	if fixture != "" {
		f, err := os.Open(fixture)
		if err != nil {
			return nil, fmt.Errorf("failed to open fixture: %w", err)
		}
		defer f.Close()

		store, err := memory.LoadFixture(f)
		if err != nil {
			return nil, err
		}
		return &sources{
			clinical: store,
			patients: store,
			resolver: store,
			close:    func() error { return nil },
		}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &sources{
		clinical: postgres.NewClinicalDataRepository(db, m),
		patients: postgres.NewPatientRepository(db, m),
		resolver: postgres.NewMetadataRepository(db, m),
		close:    db.Close,
	}, nil
}
