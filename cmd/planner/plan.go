package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/saferoute/route_scoring/fuse"
	"github.com/saferoute/route_scoring/internal/config"
	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/orchestrator"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/ranking"
	"github.com/saferoute/route_scoring/sources"
)

type planOptions struct {
	configPath string
	from       string
	to         string
	fromLabel  string
	toLabel    string
	progress   bool
	jsonOutput bool
}

func newRootCmd(logger log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "planner",
		Short:         "Rank walking routes by safety",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPlanCmd(logger))
	return root
}

func newPlanCmd(logger log.Logger) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan --from lat,lon --to lat,lon",
		Short: "Score candidate routes and print the ranking",
		Long: `Score candidate walking routes between two points and print the ranking.

Examples:
  planner plan --from 33.4255,-111.9400 --to 33.4148,-111.9093
  planner plan --config planner.yaml --from 33.4255,-111.94 --to 33.4148,-111.9093 --progress
  planner plan --from 33.4255,-111.94 --to 33.4148,-111.9093 --json | jq '.[0]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, opts, logger)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to planner YAML config")
	cmd.Flags().StringVar(&opts.from, "from", "", "Origin as lat,lon")
	cmd.Flags().StringVar(&opts.to, "to", "", "Destination as lat,lon")
	cmd.Flags().StringVar(&opts.fromLabel, "from-label", "", "Origin address sent to the narrative scorer")
	cmd.Flags().StringVar(&opts.toLabel, "to-label", "", "Destination address sent to the narrative scorer")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Print every intermediate ranking")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the final ranking as JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *planOptions, logger log.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	origin, err := parsePoint(opts.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	destination, err := parsePoint(opts.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	shutdown, err := obs.InitTracer("route-scoring-planner", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		level.Warn(logger).Log("msg", "tracer init failed", "err", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	oc := cfg.Orchestrator()
	oc.Logger = logger
	oc.Metrics = policy.NewMetrics()
	if opts.progress && !opts.jsonOutput {
		oc.Observer = func(s ranking.Snapshot) {
			if len(s.Candidates) > 0 && !s.Final {
				printSnapshot(out, s)
			}
		}
	}

	o, err := orchestrator.New(deps, oc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final, err := o.Run(ctx, orchestrator.Request{
		Origin:           origin,
		Destination:      destination,
		OriginLabel:      opts.fromLabel,
		DestinationLabel: opts.toLabel,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return writeJSON(out, final)
	}
	printSnapshot(out, final)
	return nil
}

func buildDeps(cfg config.Planner) (orchestrator.Deps, error) {
	// Policies own per-call deadlines; the client only caps the slowest one.
	hc := sources.NewHTTPClient(max(cfg.Timeouts.Provider, cfg.Timeouts.Crime, cfg.Timeouts.Imagery, cfg.Timeouts.Narrative))
	provider, err := sources.NewProviderClient(cfg.Endpoints.Provider, hc, cfg.RetryMax)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("provider: %w", err)
	}
	crime, err := sources.NewCrimeClient(cfg.Endpoints.Crime, hc, cfg.RetryMax)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("crime: %w", err)
	}
	imagery, err := sources.NewImageryClient(cfg.Endpoints.Imagery, hc, cfg.RetryMax)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("imagery: %w", err)
	}
	narrative, err := sources.NewNarrativeClient(cfg.Endpoints.Narrative, hc, cfg.RetryMax)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("narrative: %w", err)
	}
	return orchestrator.Deps{Provider: provider, Crime: crime, Imagery: imagery, Narrative: narrative}, nil
}

func parsePoint(s string) (contract.RoutePoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return contract.RoutePoint{}, fmt.Errorf("want lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return contract.RoutePoint{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return contract.RoutePoint{}, fmt.Errorf("longitude: %w", err)
	}
	p := contract.RoutePoint{Lat: lat, Lon: lon}
	if !p.Valid() {
		return contract.RoutePoint{}, fmt.Errorf("%q out of range", s)
	}
	return p, nil
}

func printSnapshot(w io.Writer, s ranking.Snapshot) {
	fmt.Fprintf(w, "v%d %s\n", s.Version, s.State)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\t#\tROUTE\tDIST\tTIME\tOVERALL\tCRIME\tIMAGERY\tNARRATIVE\tFLAGS")
	for i, c := range s.Candidates {
		marker := " "
		if i == s.Selected {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.0fm\t%s\t%.3f\t%s\t%s\t%s\t%s\n",
			marker, i+1, c.Label, c.DistanceM, (time.Duration(c.DurationS) * time.Second).String(), c.Overall,
			reading(c.Breakdown.Crime), reading(c.Breakdown.Imagery), reading(c.Breakdown.Narrative),
			flags(c.OutlierSafe, c.Breakdown.Failed()))
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func reading(r fuse.Reading) string {
	if r.State == fuse.OK {
		return strconv.FormatFloat(r.Value, 'f', 2, 64)
	}
	return r.State.String()
}

func flags(outlier bool, failed []fuse.Source) string {
	var out []string
	if outlier {
		out = append(out, "outlier-safe")
	}
	for _, src := range failed {
		out = append(out, "degraded:"+string(src))
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

type candidateJSON struct {
	ID          string             `json:"id"`
	Label       string             `json:"label"`
	DistanceM   float64            `json:"distance_m"`
	DurationS   float64            `json:"duration_s"`
	Overall     float64            `json:"overall"`
	OutlierSafe bool               `json:"outlier_safe"`
	Selected    bool               `json:"selected"`
	Scores      map[string]float64 `json:"scores"`
	Failed      []fuse.Source      `json:"failed,omitempty"`
	Concerns    []string           `json:"main_concerns,omitempty"`
	QuickTips   []string           `json:"quick_tips,omitempty"`
}

func writeJSON(w io.Writer, s ranking.Snapshot) error {
	out := make([]candidateJSON, len(s.Candidates))
	for i, c := range s.Candidates {
		scores := make(map[string]float64, len(c.Contributions))
		for _, contrib := range c.Contributions {
			scores[string(contrib.Source)] = contrib.Effective
		}
		out[i] = candidateJSON{
			ID:          c.ID,
			Label:       c.Label,
			DistanceM:   c.DistanceM,
			DurationS:   c.DurationS,
			Overall:     c.Overall,
			OutlierSafe: c.OutlierSafe,
			Selected:    i == s.Selected,
			Scores:      scores,
			Failed:      c.Breakdown.Failed(),
			Concerns:    c.Concerns,
			QuickTips:   c.QuickTips,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
