package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hivemind/internal/evolve"
	"hivemind/internal/knowledge"
	"hivemind/internal/perf"
	"hivemind/internal/refine"
	"hivemind/internal/similarity"
)

var (
	maintainBoostTag    string
	maintainBoostFactor float64

	analyzePersona string
)

// maintainCmd runs the periodic maintenance passes: consolidation of
// near-duplicates, relationship discovery for recently updated items, and an
// optional domain boost.
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run consolidation and relationship-discovery maintenance passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		scorer := similarity.NewScorer()

		// Consolidation mutates items the linker only reads similarity from,
		// so it runs first; linking then fans out per item.
		consolidator := knowledge.NewConsolidator(s, scorer)
		merged, err := consolidator.Consolidate(ctx)
		if err != nil {
			return err
		}
		logger.Info("consolidation complete", zap.Int("merged", merged))

		recent, err := s.RecentItems(ctx, 50, 0.4, 0)
		if err != nil {
			return err
		}

		linker := knowledge.NewLinker(s, scorer)
		var (
			g      errgroup.Group
			counts = make([]int, len(recent))
		)
		g.SetLimit(4)
		for i := range recent {
			i := i
			g.Go(func() error {
				n, err := linker.AutoLink(ctx, &recent[i])
				if err != nil {
					return err
				}
				counts[i] = n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		links := 0
		for _, n := range counts {
			links += n
		}
		logger.Info("relationship discovery complete",
			zap.Int("items", len(recent)), zap.Int("links", links))

		if maintainBoostTag != "" {
			engine := knowledge.NewEngine(s)
			affected, err := engine.BoostDomain(ctx, maintainBoostTag, maintainBoostFactor)
			if err != nil {
				return err
			}
			logger.Info("domain boost applied",
				zap.String("tag", maintainBoostTag), zap.Int64("affected", affected))
		}
		return nil
	},
}

// refineCmd mines the action log for failing tools.
var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Mine the action log for tool failure patterns and propose rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		refiner := refine.NewRefiner(s, s, s,
			refine.WithThreshold(cfg.Refine.FailureThreshold),
			refine.WithMinActions(cfg.Refine.MinActions),
			refine.WithWindow(time.Duration(cfg.Refine.WindowHours)*time.Hour))
		recs, err := refiner.RefineActions(context.Background())
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			logger.Info("no refinement recommendations")
			return nil
		}
		for _, rec := range recs {
			logger.Info("recommendation",
				zap.String("tool", rec.Tool),
				zap.String("kind", rec.Kind),
				zap.Float64("failure_rate", rec.FailureRate),
				zap.String("detail", rec.Detail))
		}
		return nil
	},
}

// analyzeCmd reports persona performance against the global baseline.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze persona performance against the rolling global baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzePersona == "" {
			return fmt.Errorf("--persona is required")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		analyst := perf.NewAnalyst(s, s)
		report, err := analyst.Analyze(context.Background(), analyzePersona)
		if err != nil {
			return err
		}

		logger.Info("performance report",
			zap.String("persona", report.Persona),
			zap.Float64("avg_success_rate", report.AvgSuccessRate),
			zap.Float64("avg_latency", report.AvgLatency),
			zap.Int("samples", report.SampleSize),
			zap.String("recommendation", report.Recommendation))

		for _, pattern := range analyst.AnalyzeFailurePatterns(context.Background(), analyzePersona) {
			logger.Warn("failure pattern", zap.String("pattern", pattern))
		}
		return nil
	},
}

// evolveCmd runs one evolutionary controller cycle.
var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run one observe-decide-apply-audit evolution cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		controller := evolve.NewController(s, s)
		report, err := controller.RunCycle(context.Background())
		if err != nil {
			return err
		}

		logger.Info("evolution cycle complete",
			zap.Bool("evolved", report.Evolved),
			zap.Int("samples", report.Samples),
			zap.Float64("mean_latency", report.Mean),
			zap.Float64("z_score", report.ZScore),
			zap.Bool("index_created", report.IndexCreated),
			zap.Bool("healthy", report.Healthy))
		if report.Warning != "" {
			logger.Warn(report.Warning)
		}
		for _, table := range report.MissingPrimaryKeys {
			logger.Warn("table missing primary key", zap.String("table", table))
		}
		return nil
	},
}

// statsCmd prints store row counts.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base table statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return err
		}
		for table, count := range stats {
			fmt.Printf("%-20s %d\n", table, count)
		}
		return nil
	},
}

func init() {
	maintainCmd.Flags().StringVar(&maintainBoostTag, "boost-tag", "", "apply a domain boost to items with this tag")
	maintainCmd.Flags().Float64Var(&maintainBoostFactor, "boost-factor", knowledge.DefaultDomainBoost, "confidence increment for the domain boost")

	analyzeCmd.Flags().StringVar(&analyzePersona, "persona", "", "persona id to analyze")
}
