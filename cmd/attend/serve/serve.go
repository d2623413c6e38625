// Package servecmder provides the serve command running the scheduler and
// the API server against one .attend directory.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/api"
	"github.com/papercomputeco/attend/api/mcp"
	"github.com/papercomputeco/attend/pkg/artifacts"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/credentials"
	"github.com/papercomputeco/attend/pkg/dotdir"
	"github.com/papercomputeco/attend/pkg/instance"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/pipeline/nodes"
	"github.com/papercomputeco/attend/pkg/scheduler"
	"github.com/papercomputeco/attend/pkg/stack"
	"github.com/papercomputeco/attend/pkg/utils"
)

type ServeCommander struct {
	listen        string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	pipelinesDir  string
	tick          string
	eventStream   string
	kafkaBrokers  string
	concurrency   int
	debug         bool
	logger        *zap.Logger

	// stateMu guards state, written from the tick and reload callbacks.
	stateMu sync.Mutex
	state   *instance.State
	inst    *instance.Manager
}

var serveFlags = append([]string{
	config.FlagAPIListen,
	config.FlagPipelinesDir,
	config.FlagTick,
	config.FlagConcurrency,
	config.FlagEventStream,
	config.FlagKafkaBrokers,
}, config.StorageFlags...)

const serveLongDesc string = `Run the attend service.

Loads pipeline definitions, starts the scheduler that decays the ledger,
allocates the budget and runs due pipelines on every tick, and serves the
HTTP API (with MCP tools at /mcp) for ingesting activity and inspecting
balances and runs.

Only one attend serve may own a .attend directory at a time.

Examples:
  attend serve
  attend serve --listen :9090 --tick 30s
  attend serve --storage postgres --postgres-dsn postgres://localhost/attend`

const serveShortDesc string = "Run the attend scheduler and API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cfg, configDir, err := config.ForCommand(cmd, serveFlags)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cfg, configDir)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagPipelinesDir, &cmder.pipelinesDir)
	config.AddStringFlag(cmd, config.Flags, config.FlagTick, &cmder.tick)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStream, &cmder.eventStream)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddIntFlag(cmd, config.Flags, config.FlagConcurrency, &cmder.concurrency)

	return cmd
}

func (c *ServeCommander) run(ctx context.Context, cfg *config.Config, configDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	inst, err := instance.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("resolving .attend directory: %w", err)
	}
	c.inst = inst

	lock, err := inst.TryLock()
	if errors.Is(err, instance.ErrLocked) {
		return fmt.Errorf("attend serve is already running for %s", inst.Dir)
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	logFile, err := os.OpenFile(inst.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening serve log: %w", err)
	}
	defer logFile.Close()

	c.logger = logger.Multi(
		logger.NewLogger(c.debug),
		logger.New(logger.WithJSON(true), logger.WithDebug(c.debug), logger.WithWriter(logFile)),
	)
	defer func() { _ = c.logger.Sync() }()

	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: c.logger})
	if err != nil {
		return err
	}
	defer st.Close()

	publisher, err := stack.NewPublisher(cfg.EventStream, c.logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	sink, err := artifacts.NewFileSink(inst.Dir, c.logger)
	if err != nil {
		return err
	}

	keys, err := credentials.NewManager(inst.Dir)
	if err != nil {
		return err
	}

	nodeRegistry := pipeline.NewRegistry()
	nodes.Register(nodeRegistry, nodes.Deps{Ledger: st.Ledger, Keys: keys, Logger: c.logger})

	executor, err := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Runs:        st.Driver,
		Ledger:      st.Ledger,
		Nodes:       nodeRegistry,
		Sink:        sink,
		Entities:    st.Registry,
		Publisher:   publisher,
		Concurrency: cfg.Scheduler.Concurrency,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}

	pipelinesDir := cfg.Pipelines.Dir
	if pipelinesDir == "" {
		pipelinesDir, err = dotdir.NewManager().PipelinesDir(configDir)
		if err != nil {
			return err
		}
	}
	pipelines, err := pipeline.LoadDir(pipelinesDir, nodeRegistry)
	if err != nil {
		return err
	}
	c.logger.Info("loaded pipelines",
		zap.String("dir", pipelinesDir),
		zap.Strings("pipelines", names(pipelines)),
	)

	tick, err := cfg.Scheduler.TickDuration()
	if err != nil {
		return err
	}

	schedConfig := scheduler.Config{
		Selector:  st.Selector,
		Executor:  executor,
		Runs:      st.Driver,
		Pipelines: pipelines,
		Tick:      tick,
		OnTick:    c.onTick,
		Logger:    c.logger,
	}
	if cfg.Scheduler.Decay {
		schedConfig.Decay = st.Ledger
	}
	sched, err := scheduler.New(schedConfig)
	if err != nil {
		return err
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Ledger:   st.Ledger,
		Entities: st.Registry,
		Runs:     st.Driver,
		Selector: st.Selector,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		Ledger:     st.Ledger,
		Entities:   st.Registry,
		Selector:   st.Selector,
		Runs:       st.Driver,
		Scheduler:  sched,
		MCPHandler: mcpServer.Handler(),
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.state = &instance.State{
		PID:       os.Getpid(),
		APIURL:    listenURL(cfg.API.Listen),
		Storage:   cfg.Storage.Driver,
		Pipelines: names(pipelines),
		StartedAt: time.Now(),
	}
	c.saveState()
	defer func() {
		if err := inst.ClearState(); err != nil {
			c.logger.Warn("failed to clear serve state", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Runs left open by a previous process are resolved before the API can
	// trigger new ones.
	resolved, err := executor.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling runs: %w", err)
	}
	if resolved > 0 {
		c.logger.Warn("resolved interrupted runs", zap.Int("count", resolved))
	}

	// Channel to capture errors from goroutines
	errChan := make(chan error, 3)
	var wg sync.WaitGroup

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			errChan <- fmt.Errorf("scheduler error: %w", err)
		}
	}()

	if cfg.Pipelines.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pipeline.Watch(ctx, pipelinesDir, nodeRegistry, c.logger, func(ps []*pipeline.Pipeline) {
				sched.SetPipelines(ps)
				c.updateState(func(s *instance.State) { s.Pipelines = names(ps) })
				c.logger.Info("reloaded pipelines", zap.Strings("pipelines", names(ps)))
			})
			if err != nil {
				c.logger.Error("pipeline watcher stopped", zap.Error(err))
			}
		}()
	}

	c.logger.Info("attend serve started",
		zap.String("version", utils.Version),
		zap.String("dir", inst.Dir),
		zap.String("api_addr", cfg.API.Listen),
		zap.String("storage", cfg.Storage.Driver),
	)

	var runErr error
	select {
	case runErr = <-errChan:
		stop()
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
	}

	if err := apiServer.Shutdown(); err != nil {
		c.logger.Warn("API server shutdown failed", zap.Error(err))
	}
	wg.Wait()
	return runErr
}

func (c *ServeCommander) onTick(report scheduler.TickReport) {
	c.updateState(func(s *instance.State) { s.LastTick = report.At })
}

func (c *ServeCommander) updateState(mutate func(*instance.State)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	mutate(c.state)
	if err := c.inst.SaveState(c.state); err != nil {
		c.logger.Warn("failed to save serve state", zap.Error(err))
	}
}

func (c *ServeCommander) saveState() {
	c.updateState(func(*instance.State) {})
}

func names(ps []*pipeline.Pipeline) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

// listenURL turns a listen address into a URL clients on this host can
// reach.
func listenURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}
