package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/dispatcher"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/iface/httpiface"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/lifecycle"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/loader"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/resource/callableres"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/respool"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/supervisor"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/telemetry"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/transaction"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/workerpool"
)

// runWorker is the reinvoked child side of §4.7: it builds the cage's
// process-wide components (log → taps → worker pool → dispatcher →
// resource-pool manager → interfaces) using fx.App's own hook
// ordering, then blocks until the parent goes away (supervisor.Child's
// stdout watchdog), which is the only shutdown signal it waits on.
func runWorker(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "pythomnic: malformed reinvocation arguments")
		os.Exit(1)
	}
	node, cage, verdict := args[0], args[1], supervisor.ExitVerdict(args[2])

	cageDir := "cages/" + cage
	os.MkdirAll(cageDir+"/logs", 0o755)

	log := corelog.StdoutLogger(cage)
	log.Inf("worker starting: node=%s cage=%s previous=%s", node, cage, verdict)

	env := loader.Environment{Node: node, Cage: cage, CageDir: cageDir}
	locator := loader.NewLocator(".", cage)
	configConfig, err := loadConfigConfig(locator, env)
	if err != nil {
		log.Err("cannot resolve config_config: %v", err)
		os.Exit(1)
	}

	ldr, err := loader.New(locator, configConfig, 5*time.Second, 2*time.Second)
	if err != nil {
		log.Err("cannot start config loader: %v", err)
		os.Exit(1)
	}
	defer ldr.Close()

	child := supervisor.NewChild(time.Second)

	app := fx.New(
		fx.Supply(log, cage),
		fx.Provide(
			func() *prometheus.Registry { return prometheus.NewRegistry() },
			func(reg *prometheus.Registry) *telemetry.Taps { return telemetry.New(reg) },
			func(taps *telemetry.Taps) *workerpool.Pool {
				return workerpool.New(threadCount, threadCount*4, workerMaxAge)
			},
			func(pool *workerpool.Pool, taps *telemetry.Taps) *dispatcher.Dispatcher {
				return dispatcher.New(pool, taps, requestTimeout)
			},
			func() *respool.Manager { return newManagerWithDefaultPools(log, sweepPeriod) },
		),
		fx.Invoke(func(lc fx.Lifecycle, pool *workerpool.Pool, mgr *respool.Manager, disp *dispatcher.Dispatcher) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					disp.Shutdown()
					pool.Stop(requestTimeout)
					mgr.Shutdown()
					return nil
				},
			})
			orch := lifecycle.New(log, newCageReloadSource(disp, mgr, log), 3*time.Second)
			orch.Register(lc)
		}),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Err("startup failed: %v", err)
		os.Exit(1)
	}

	<-child.ShutdownCh
	log.Inf("parent gone, shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), requestTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Err("shutdown failed: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

const (
	threadCount    = 16
	workerMaxAge   = 10 * time.Minute
	requestTimeout = 10 * time.Second
	sweepPeriod    = 5 * time.Second
)

// loadConfigConfig resolves the macro dictionary every other config
// module expands against: config_config's own production dict merged
// with the environment builtins (§4.6). It is read with the bare
// locator/expand path rather than through Loader, since config_config
// must not itself depend on the macro set it is building.
func loadConfigConfig(locator *loader.Locator, env loader.Environment) (loader.Macros, error) {
	path, err := locator.Locate("config_config")
	macros := env.Builtins()
	if err != nil {
		// No config_config present yet: builtins alone are a valid,
		// if minimal, macro dictionary.
		return macros, nil
	}
	cfg, err := loader.LoadFlat(path)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg {
		macros[k] = v
	}
	return macros, nil
}

// echoPoolName is the one always-registered pool (a callableres
// resource with no external system behind it) that the shipped
// binary's built-in health-check interface exercises end to end, so
// the default build drives request → dispatcher → transaction →
// resource-pool checkout rather than leaving that path only reachable
// from tests.
const echoPoolName = "echo"

// newManagerWithDefaultPools starts the resource-pool manager and
// registers the pool backing the built-in health-check interface.
// Cages with real protocol config wire their own pools from
// config_resource_<name> on top of this one.
func newManagerWithDefaultPools(log *corelog.Logger, sweepPeriod time.Duration) *respool.Manager {
	mgr := respool.NewManager(log, sweepPeriod)
	mgr.Register(echoPoolName, respool.Config{
		Size:           4,
		StandbyTimeout: time.Second,
		Constructor: func() respool.Resource {
			return callableres.New(func(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
				return args, nil
			})
		},
	})
	return mgr
}

// cageReloadSource is the lifecycle.ReloadSource for the shipped
// binary: it always wants exactly one interface, "http_1", a health
// check endpoint that round-trips a transaction through echoPoolName
// so the whole C5→C2→C4→C3 path is exercised outside of tests. Cages
// with real protocol config replace this with a ReloadSource backed by
// the loader's `interfaces` config key (§4.8).
type cageReloadSource struct {
	disp *dispatcher.Dispatcher
	mgr  *respool.Manager
	log  *corelog.Logger
}

func newCageReloadSource(disp *dispatcher.Dispatcher, mgr *respool.Manager, log *corelog.Logger) *cageReloadSource {
	return &cageReloadSource{disp: disp, mgr: mgr, log: log}
}

func (s *cageReloadSource) Desired() []string { return []string{"http_1"} }

func (s *cageReloadSource) Build(name string) (lifecycle.Interface, error) {
	if name != "http_1" {
		return nil, fmt.Errorf("no interface builder registered for %q", name)
	}
	iface := httpiface.New(httpiface.Config{
		Name:          name,
		Addr:          ":8765",
		Timeout:       requestTimeout,
		ConfigVersion: s.Version(name),
	}, s.disp)
	iface.Handle("GET", "/health", s.handleHealth)
	return iface, nil
}

func (s *cageReloadSource) Version(name string) int { return 0 }

func (s *cageReloadSource) handleHealth(req *corereq.Request, w http.ResponseWriter, r *http.Request) {
	tx := transaction.New(s.log, s.mgr, nil)
	tx.AddParticipant(transaction.Participant{PoolName: echoPoolName, ExecuteArgs: []any{"ok"}})
	results, err := tx.Execute(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": results[0]})
}
