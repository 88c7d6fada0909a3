// dexflow builds control-flow graphs for the methods of Dalvik module dumps
// and reports, exports, stores or serves them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/dexflow/analysis"
	"github.com/chazu/dexflow/dex"
	"github.com/chazu/dexflow/manifest"
	"github.com/chazu/dexflow/server"
	"github.com/chazu/dexflow/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	config     string
	verbosity  int
	workers    int
	method     string
	disasm     bool
	blocks     bool
	export     string
	storeDSN   string
	runs       bool
	serve      string
	grpc       string
	initConfig bool
}

// run is main without the process exit, returning the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dexflow", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.config, "config", "", "Configuration file (default: dexflow.toml found from the working directory up)")
	fs.IntVar(&opts.verbosity, "v", 0, "Log verbosity (-4 silent .. 2 debug)")
	fs.IntVar(&opts.workers, "workers", 0, "Analysis worker goroutines (0: GOMAXPROCS)")
	fs.StringVar(&opts.method, "method", "", "Restrict reports and export to one method signature")
	fs.BoolVar(&opts.disasm, "disasm", false, "Print instruction listings")
	fs.BoolVar(&opts.blocks, "blocks", false, "Print block and exception region tables")
	fs.StringVar(&opts.export, "export", "", "Write CBOR method summaries to `file`")
	fs.StringVar(&opts.storeDSN, "store", "", "Save a run per module to this database DSN")
	fs.BoolVar(&opts.runs, "runs", false, "List the runs saved in the store and exit")
	fs.StringVar(&opts.serve, "serve", "", "Serve the query service over Connect on `addr`")
	fs.StringVar(&opts.grpc, "grpc", "", "Serve the query service over native gRPC on `addr`")
	fs.BoolVar(&opts.initConfig, "init", false, "Write a default dexflow.toml to the working directory and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dexflow [options] module.cbor...\n\n")
		fmt.Fprintf(stderr, "Builds basic blocks, edges and exception regions for every method with a body.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  dexflow app.cbor                               # Register and print a summary line\n")
		fmt.Fprintf(stderr, "  dexflow -blocks -method 'LA;->f()V' app.cbor   # Block table for one method\n")
		fmt.Fprintf(stderr, "  dexflow -export cfg.cbor app.cbor              # Export summaries\n")
		fmt.Fprintf(stderr, "  dexflow -store runs.db app.cbor                # Save a run\n")
		fmt.Fprintf(stderr, "  dexflow -serve :7420 -grpc :7421 app.cbor      # Serve queries\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.initConfig {
		path := manifest.FileName
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(stderr, "Error: %s already exists\n", path)
			return 1
		}
		if err := manifest.Write(path, manifest.Default()); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote %s\n", path)
		return 0
	}

	cfg, err := loadConfig(fs, &opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	configureLogging(cfg)

	if opts.runs {
		if err := listRuns(stdout, cfg); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if err := analyze(fs.Args(), cfg, &opts, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(fs *flag.FlagSet, opts *options) (*manifest.Manifest, error) {
	var cfg *manifest.Manifest
	var err error
	if opts.config != "" {
		cfg, err = manifest.LoadFile(opts.config)
	} else {
		cfg, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Log.Verbosity = opts.verbosity
		case "workers":
			cfg.Analysis.Workers = opts.workers
		case "store":
			cfg.Store.DSN = opts.storeDSN
		case "serve":
			cfg.Server.Addr = opts.serve
		case "grpc":
			cfg.Server.GRPC = opts.grpc
		}
	})
	return cfg, nil
}

func configureLogging(cfg *manifest.Manifest) {
	if file := cfg.LogFile(); file != "" {
		commonlog.Configure(cfg.Log.Verbosity, &file)
		return
	}
	commonlog.Configure(cfg.Log.Verbosity, nil)
}

func analyze(paths []string, cfg *manifest.Manifest, opts *options, stdout io.Writer) error {
	idx := analysis.NewIndex(
		analysis.WithWorkers(cfg.Analysis.Workers),
		analysis.WithBatchSize(cfg.Analysis.Batch),
	)

	var modules []*dex.Module
	for _, path := range paths {
		m, err := dex.ReadModuleFile(path)
		if err != nil {
			return err
		}
		stats, err := idx.Register(m)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, stats)
		modules = append(modules, m)
	}

	selected, err := selectMethods(idx, opts.method)
	if err != nil {
		return err
	}

	for _, ma := range selected {
		if opts.disasm {
			fmt.Fprintln(stdout, dex.Disassemble(ma.Name(), ma.Instructions()))
		}
		if opts.blocks {
			writeBlocks(stdout, ma)
			if len(ma.ExceptionRegions()) > 0 {
				writeRegions(stdout, ma)
			}
			fmt.Fprintln(stdout)
		}
	}

	if opts.export != "" {
		if err := exportSummaries(opts.export, selected); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Exported %d summaries to %s\n", len(selected), opts.export)
	}

	if cfg.Store.DSN != "" {
		if err := saveRuns(stdout, cfg, idx, modules); err != nil {
			return err
		}
	}

	if opts.serve != "" || opts.grpc != "" {
		return serve(cfg, idx, opts)
	}
	return nil
}

// selectMethods returns every analysis, or the one named by signature.
func selectMethods(idx *analysis.Index, signature string) ([]*analysis.MethodAnalysis, error) {
	if signature == "" {
		return idx.Methods(), nil
	}
	if ma, ok := idx.LookupName(signature); ok {
		return []*analysis.MethodAnalysis{ma}, nil
	}
	m, ok := idx.Method(signature)
	if !ok {
		return nil, fmt.Errorf("method %q not found", signature)
	}
	if cause := idx.Failure(m); cause != nil {
		return nil, fmt.Errorf("method %q was not analysed: %w", signature, cause)
	}
	return nil, fmt.Errorf("method %q has no body", signature)
}

func exportSummaries(path string, selected []*analysis.MethodAnalysis) error {
	sums := make([]*analysis.Summary, len(selected))
	for i, ma := range selected {
		sums[i] = ma.Summary()
	}
	data, err := analysis.MarshalSummaries(sums)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func openStore(cfg *manifest.Manifest) (*store.Store, error) {
	dsn := cfg.StoreDSN()
	if dsn != "" && dsn != ":memory:" && cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(cfg.Store.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func saveRuns(stdout io.Writer, cfg *manifest.Manifest, idx *analysis.Index, modules []*dex.Module) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, m := range modules {
		var sums []*analysis.Summary
		for _, meth := range m.Methods() {
			if ma, ok := idx.Lookup(meth); ok {
				sums = append(sums, ma.Summary())
			}
		}
		id, err := st.SaveRun(context.Background(), m.Name, sums)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved run %s (%s, %d methods)\n", id, m.Name, len(sums))
	}
	return nil
}

func listRuns(stdout io.Writer, cfg *manifest.Manifest) error {
	if cfg.Store.DSN == "" {
		return errors.New("no store configured (use -store or [store] dsn)")
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(context.Background())
	if err != nil {
		return err
	}
	writeRuns(stdout, runs)
	return nil
}

// serve runs the configured listeners until interrupted.
func serve(cfg *manifest.Manifest, idx *analysis.Index, opts *options) error {
	srv, err := server.New(idx, server.WithCacheSize(cfg.Server.CacheSize))
	if err != nil {
		return err
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if opts.serve != "" {
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Server.Addr) })
	}
	if opts.grpc != "" {
		g.Go(func() error { return srv.ListenAndServeGRPC(ctx, cfg.Server.GRPC) })
	}
	return g.Wait()
}
