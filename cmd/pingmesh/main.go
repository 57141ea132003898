package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/pingmesh/internal/bundle"
	"github.com/pingsantohq/pingmesh/internal/config"
	"github.com/pingsantohq/pingmesh/internal/health"
	"github.com/pingsantohq/pingmesh/internal/logging"
	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/runtime"
	"github.com/pingsantohq/pingmesh/internal/server"
	"github.com/pingsantohq/pingmesh/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errors.New("missing command")
	}
	switch cmd := args[0]; cmd {
	case "run":
		return runCmd(ctx, args[1:], stdout)
	case "serve":
		return serveCmd(ctx, args[1:], stdout)
	case "bundle":
		return bundleCmd(ctx, args[1:], stdout)
	case "verify":
		return verifyCmd(ctx, args[1:], stdout)
	case "-h", "--help", "help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "pingmesh network telemetry simulator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pingmesh run [--config scenario.yaml] [--sig scenario.yaml.minisig --pubkey KEY|--pubkey-file path]")
	fmt.Fprintln(w, "  pingmesh serve [--config scenario.yaml] [--run] [--addr host:port] [--stale-after 1h]")
	fmt.Fprintln(w, "  pingmesh bundle --dir out [--output file.tar.gz]")
	fmt.Fprintln(w, "  pingmesh verify --file scenario.yaml --sig scenario.yaml.minisig (--pubkey KEY|--pubkey-file path)")
}

type signedConfigFlags struct {
	path    *string
	sig     *string
	pubKey  *string
	keyFile *string
}

func addConfigFlags(fs *flag.FlagSet) signedConfigFlags {
	def := os.Getenv("PINGMESH_CONFIG")
	if def == "" {
		def = config.DefaultConfigPath
	}
	return signedConfigFlags{
		path:    fs.String("config", def, "Path to scenario file"),
		sig:     fs.String("sig", "", "Minisign signature of the scenario file"),
		pubKey:  fs.String("pubkey", "", "Minisign public key"),
		keyFile: fs.String("pubkey-file", "", "File holding the minisign public key"),
	}
}

func (f signedConfigFlags) verifier() (*config.MinisignVerifier, error) {
	switch {
	case *f.pubKey != "":
		return config.NewMinisignVerifier(*f.pubKey)
	case *f.keyFile != "":
		return config.NewMinisignVerifierFromFile(*f.keyFile)
	default:
		return nil, errors.New("a public key is required (--pubkey or --pubkey-file)")
	}
}

func (f signedConfigFlags) load(ctx context.Context) (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	if *f.sig == "" {
		return config.Load(ctx, *f.path)
	}
	v, err := f.verifier()
	if err != nil {
		return config.Config{}, err
	}
	return config.LoadVerified(ctx, *f.path, *f.sig, v)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (store.Store, func(), error) {
	if cfg.Export.PostgresDSN == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Export.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	logger.Infow("run summaries exported to postgres")
	return pg, pg.Close, nil
}

func runCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf := addConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Run.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := simulate(ctx, cfg, runtime.Dependencies{Logger: logger, Metrics: metrics.NewStore(), Store: st})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run %s wrote %d files to %s\n", res.RunID, len(res.Manifest.Files), res.OutputDir)
	return nil
}

func simulate(ctx context.Context, cfg config.Config, deps runtime.Dependencies) (runtime.Result, error) {
	rt, err := runtime.New(cfg, deps)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("set up run: %w", err)
	}
	return rt.Run(ctx)
}

func serveCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cf := addConfigFlags(fs)
	runFirst := fs.Bool("run", false, "Run the scenario once before serving")
	staleAfter := fs.Duration("stale-after", 0, "Report not ready when the latest run is older than this (0 disables)")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger, err := logging.New(cfg.Run.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metricsStore := metrics.NewStore()
	checker := health.NewChecker(st, metricsStore.ReadinessRecorder(), *staleAfter)
	if *runFirst {
		_, err := simulate(ctx, cfg, runtime.Dependencies{Logger: logger, Metrics: metricsStore, Store: st})
		checker.ObserveRun(time.Now().UTC(), err)
		if err != nil {
			logger.Errorw("initial run failed, serving stored runs only", "error", err)
		}
	}

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, server.Dependencies{Logger: logger, Store: st, Metrics: metricsStore, Health: checker})

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	fmt.Fprintf(stdout, "serving on http://%s\n", ln.Addr())
	logger.Infow("api listening", "addr", ln.Addr().String())

	grp, groupCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infow("api stopped")
	return nil
}

func bundleCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	dir := fs.String("dir", "./out", "Run output directory")
	output := fs.String("output", "", "Bundle path (default pingmesh_<run id>.tar.gz next to dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	info, err := bundle.Create(ctx, *dir, *output, bundle.Dependencies{})
	if err != nil {
		return err
	}
	for _, w := range info.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	fmt.Fprintf(stdout, "bundle %s: %d files, %d bytes -> %s\n", info.BundleID, info.Files, info.Bytes, info.OutputPath)
	return nil
}

func verifyCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	file := fs.String("file", "", "Scenario file to verify")
	cf := signedConfigFlags{
		sig:     fs.String("sig", "", "Minisign signature"),
		pubKey:  fs.String("pubkey", "", "Minisign public key"),
		keyFile: fs.String("pubkey-file", "", "File holding the minisign public key"),
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *cf.sig == "" {
		return errors.New("--file and --sig are required")
	}
	v, err := cf.verifier()
	if err != nil {
		return err
	}
	if err := v.Verify(ctx, *file, *cf.sig); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "signature ok: %s\n", *file)
	return nil
}
