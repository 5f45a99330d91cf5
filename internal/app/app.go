// internal/app/app.go
package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"tcrflow/internal/cache"
	"tcrflow/internal/chunk"
	"tcrflow/internal/cli"
	"tcrflow/internal/compare"
	"tcrflow/internal/config"
	"tcrflow/internal/jsonutil"
	"tcrflow/internal/merge"
	"tcrflow/internal/output"
	"tcrflow/internal/sample"
	"tcrflow/internal/scheduler"
	"tcrflow/internal/split"
	"tcrflow/internal/stage"
	"tcrflow/internal/tool"
	"tcrflow/internal/version"
	"tcrflow/internal/writers"
	"tcrflow/pkg/api"
)

// manifest is the per-run record written into the work directory so a
// finished or interrupted run can be audited later.
type manifest struct {
	RunID          string             `json:"run_id"`
	CreatedAt      time.Time          `json:"created_at"`
	ConfigFile     string             `json:"config_file"`
	CacheDir       string             `json:"cache_dir"`
	WorkDir        string             `json:"work_dir"`
	Splitter       string             `json:"splitter"`
	Tools          []string           `json:"tools"`
	TotalThreads   int                `json:"total_threads"`
	ThreadsPerUnit int                `json:"threads_per_unit"`
	Samples        []manifestSample   `json:"samples"`
	CacheHits      int64              `json:"cache_hits,omitempty"`
	CacheMisses    int64              `json:"cache_misses,omitempty"`
	Pairs          []api.PairStatusV1 `json:"pairs,omitempty"`
}

type manifestSample struct {
	Name   string `json:"name"`
	Reads  int64  `json:"reads,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

func RunContext(parent context.Context, argv []string, stdout, stderr io.Writer) int {
	outw := bufio.NewWriter(stdout)
	defer func() { _ = outw.Flush() }()

	fs := cli.NewFlagSet("tcrflow")
	fs.SetOutput(io.Discard)

	opts, err := cli.ParseArgs(fs, argv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(outw)
			fs.Usage()
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err)
		fs.SetOutput(stderr)
		fs.Usage()
		return 2
	}
	if opts.Version {
		_, _ = fmt.Fprintf(outw, "tcrflow version %s\n", version.Version)
		return 0
	}

	level := slog.LevelInfo
	if opts.Quiet {
		level = slog.LevelWarn
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if opts.Threads > 0 {
		cfg.TotalThreads = opts.Threads
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}
	if opts.WorkDir != "" {
		cfg.WorkDir = opts.WorkDir
	}

	runID := uuid.NewString()
	runDir := filepath.Join(cfg.WorkDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 3
	}
	log.Info("run starting", "run_id", runID, "work_dir", runDir,
		"samples", len(cfg.Samples), "threads", cfg.TotalThreads)

	stager, err := stage.New(stage.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}, log)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	splitter := split.New(cfg.Splitter, log)

	man := manifest{
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		ConfigFile:   opts.ConfigFile,
		CacheDir:     cfg.CacheDir,
		WorkDir:      runDir,
		Splitter:     cfg.Splitter,
		TotalThreads: cfg.TotalThreads,
	}
	for _, tc := range cfg.Tools {
		man.Tools = append(man.Tools, tc.Name)
	}

	var work []scheduler.SampleWork
	var planFailures []api.PlanningFailureV1
	for _, sc := range cfg.Samples {
		ms := manifestSample{Name: sc.Name}
		w, err := planSample(parent, sc, cfg, stager, splitter, runDir, &ms)
		if err != nil {
			// Fatal to this sample only; siblings keep going.
			log.Warn("sample planning failed", "sample", sc.Name, "err", err)
			ms.Error = err.Error()
			planFailures = append(planFailures, api.PlanningFailureV1{Sample: sc.Name, Error: err.Error()})
		} else {
			work = append(work, w)
		}
		man.Samples = append(man.Samples, ms)
	}

	if opts.DryRun {
		if err := printPlan(outw, work, planFailures, opts.Header); err != nil && !writers.IsBrokenPipe(err) {
			_, _ = fmt.Fprintln(stderr, err)
			return 3
		}
		return 0
	}
	if len(work) == 0 {
		_, _ = fmt.Fprintln(stderr, "tcrflow: no sample could be planned")
		return 3
	}

	cm, err := cache.NewManager(cfg.CacheDir, log)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 3
	}
	runners, err := buildRunners(cfg, stager)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	sched, err := scheduler.New(scheduler.Config{
		TotalThreads:       cfg.TotalThreads,
		MaxSamples:         cfg.MaxSamples,
		MaxChunksPerSample: cfg.MaxChunksPerSample,
	}, cm, runners, log)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 3
	}

	man.ThreadsPerUnit = sched.ThreadsPerUnit()
	writeManifest(runDir, man, log)

	reports := sched.Run(parent, work)

	tablesDir := filepath.Join(runDir, "tables")
	for _, rep := range reports {
		if rep.Result == nil {
			continue
		}
		path, err := writers.SaveClonotypeTSV(tablesDir, *rep.Result, opts.Header)
		if err != nil {
			log.Warn("failed to write clonotype table",
				"sample", rep.Sample, "tool", rep.Tool, "err", err)
			continue
		}
		log.Info("wrote clonotype table", "path", path)
	}

	comps := buildComparisons(cfg, reports)

	hits, misses := cm.Stats()
	log.Info("run finished", "run_id", runID,
		"cache_hits", hits, "cache_misses", misses, "comparisons", len(comps))

	report := api.ReportV1{
		RunID:            runID,
		CreatedAt:        time.Now().UTC(),
		ToolA:            cfg.Tools[0].Name,
		ToolB:            cfg.Tools[1].Name,
		TotalThreads:     cfg.TotalThreads,
		ThreadsPerUnit:   sched.ThreadsPerUnit(),
		CacheHits:        hits,
		CacheMisses:      misses,
		PlanningFailures: planFailures,
	}
	for _, c := range comps {
		report.Samples = append(report.Samples, output.ToAPIComparison(c))
	}
	for _, pr := range reports {
		report.Pairs = append(report.Pairs, output.ToAPIPair(pr))
	}

	// Rewrite the manifest now that execution outcomes are known; the
	// pre-run copy only matters if the run dies before reaching here.
	man.CacheHits, man.CacheMisses = hits, misses
	man.Pairs = report.Pairs
	writeManifest(runDir, man, log)

	if err := writeReport(outw, opts, report, comps); err != nil && !writers.IsBrokenPipe(err) {
		_, _ = fmt.Fprintln(stderr, err)
		return 3
	}

	if parent.Err() != nil {
		return 130
	}
	if len(comps) == 0 {
		_, _ = fmt.Fprintln(stderr, "tcrflow: no sample produced results from both tools")
		return 3
	}
	return 0
}

func Run(argv []string, stdout, stderr io.Writer) int {
	return RunContext(context.Background(), argv, stdout, stderr)
}

// planSample stages, counts, plans, and physically splits one sample.
func planSample(ctx context.Context, sc config.SampleConfig, cfg config.Config,
	st *stage.Stager, sp *split.Splitter, runDir string, ms *manifestSample) (scheduler.SampleWork, error) {

	smp := sample.New(sc.Name, sc.R1, sc.R2)
	if smp.IsRemote() {
		dir := filepath.Join(runDir, "stage", sc.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return scheduler.SampleWork{}, err
		}
		r1, err := st.Stage(ctx, smp.R1, dir)
		if err != nil {
			return scheduler.SampleWork{}, err
		}
		r2, err := st.Stage(ctx, smp.R2, dir)
		if err != nil {
			return scheduler.SampleWork{}, err
		}
		smp = sample.New(sc.Name, r1, r2)
	}
	total, err := smp.TotalReads(ctx)
	if err != nil {
		return scheduler.SampleWork{}, err
	}
	spans, err := chunk.Plan(sc.Name, total, int64(cfg.ChunkSize), int64(cfg.MinChunkSize))
	if err != nil {
		return scheduler.SampleWork{}, err
	}

	dir := filepath.Join(runDir, "chunks", sc.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return scheduler.SampleWork{}, err
	}
	chunks, err := sp.Split(ctx, smp, spans, dir)
	if err != nil {
		return scheduler.SampleWork{}, err
	}

	ms.Reads = total
	ms.Chunks = len(chunks)
	return scheduler.SampleWork{Sample: sc.Name, Chunks: chunks}, nil
}

func buildRunners(cfg config.Config, st *stage.Stager) ([]tool.Runner, error) {
	runners := make([]tool.Runner, 0, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		p := tool.Params{
			Tool:    tc.Name,
			Preset:  tc.Preset,
			Species: tc.Species,
			RefDB:   tc.RefDB,
			Extra:   tc.ExtraArgs,
		}
		switch tc.Name {
		case config.ToolMiXCR:
			runners = append(runners, &tool.MiXCR{Exe: tc.Executable, P: p, Timeout: cfg.Timeout, Stager: st})
		case config.ToolTRUST4:
			runners = append(runners, &tool.TRUST4{Exe: tc.Executable, P: p, Timeout: cfg.Timeout, Stager: st})
		default:
			return nil, fmt.Errorf("tcrflow: no runner for tool %q", tc.Name)
		}
	}
	return runners, nil
}

// buildComparisons pairs up each sample's two merged results in config
// tool order. Samples where either side produced nothing are skipped;
// their status still appears in the pair reports.
func buildComparisons(cfg config.Config, reports []scheduler.PairReport) []compare.Comparison {
	bySample := make(map[string]map[string]*merge.SampleResult)
	for _, rep := range reports {
		if rep.Result == nil {
			continue
		}
		if bySample[rep.Sample] == nil {
			bySample[rep.Sample] = make(map[string]*merge.SampleResult)
		}
		bySample[rep.Sample][rep.Tool] = rep.Result
	}

	names := make([]string, 0, len(bySample))
	for name := range bySample {
		names = append(names, name)
	}
	sort.Strings(names)

	toolA, toolB := cfg.Tools[0].Name, cfg.Tools[1].Name
	var comps []compare.Comparison
	for _, name := range names {
		a, b := bySample[name][toolA], bySample[name][toolB]
		if a == nil || b == nil {
			continue
		}
		comps = append(comps, compare.Compare(*a, *b))
	}
	return comps
}

func printPlan(w io.Writer, work []scheduler.SampleWork, failures []api.PlanningFailureV1, header bool) error {
	if header {
		if _, err := fmt.Fprintln(w, "sample\tchunks\treads"); err != nil {
			return err
		}
	}
	for _, sw := range work {
		var reads int64
		for _, ch := range sw.Chunks {
			reads += ch.Reads()
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%d\n", sw.Sample, len(sw.Chunks), reads); err != nil {
			return err
		}
	}
	for _, f := range failures {
		if _, err := fmt.Fprintf(w, "%s\t-\t-\t%s\n", f.Sample, f.Error); err != nil {
			return err
		}
	}
	return nil
}

func writeManifest(runDir string, man manifest, log *slog.Logger) {
	path := filepath.Join(runDir, "manifest.json")
	f, err := os.Create(path)
	if err != nil {
		log.Warn("cannot write run manifest", "path", path, "err", err)
		return
	}
	defer f.Close()
	if err := jsonutil.EncodePretty(f, man); err != nil {
		log.Warn("cannot write run manifest", "path", path, "err", err)
	}
}

func writeReport(stdout io.Writer, opts cli.Options, report api.ReportV1, comps []compare.Comparison) error {
	var w io.Writer = stdout
	var closeFn func() error
	if opts.Report != "-" && opts.Report != "" {
		f, err := os.Create(opts.Report)
		if err != nil {
			return err
		}
		w = f
		closeFn = f.Close
	}

	var err error
	switch opts.Output {
	case "json":
		err = output.WriteJSON(w, report)
	default:
		err = output.WriteText(w, comps, opts.Header)
	}
	if closeFn != nil {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}
	return err
}
