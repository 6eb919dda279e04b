package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mgreenly/ikigai-sub009/internal/agentfsm"
	"github.com/mgreenly/ikigai-sub009/internal/config"
	"github.com/mgreenly/ikigai-sub009/internal/controlsocket"
	"github.com/mgreenly/ikigai-sub009/internal/eventloop"
	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/logging"
	"github.com/mgreenly/ikigai-sub009/internal/metrics"
	"github.com/mgreenly/ikigai-sub009/internal/session"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
)

// defaultSessionID names the single session a local ikigai process owns.
// Multi-process concurrency on one event log is a spec.md §1 Non-goal, so
// one process always restores (or creates) exactly this session.
const defaultSessionID = "default"

// runServe wires every collaborator spec.md §2 lists into one running
// process: load config, open the event store, bootstrap or restore every
// agent, start the control socket, and hand it all to the event loop. This
// single function is the composition root the teacher keeps in
// cmd/nexus/handlers_serve.go — everything downstream only ever sees the
// narrow interfaces (store.EventStore, provider.Adapter, tools.Dispatcher)
// it was built against.
func runServe(cmd *cobra.Command, configPath string, headless, debug bool) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return fatalConfig(err)
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger := logging.New(level)
	if cfg.LogDir != "" {
		if err := logging.InitDebugLog(cfg.LogDir); err != nil {
			logger.Warn("debug log unavailable", "error", err)
		}
	}

	es, err := openStore(cfg)
	if err != nil {
		return ikerr.Wrap(ikerr.IO, "runServe", "open event store: %v", err)
	}
	defer func() {
		if cerr := es.Close(); cerr != nil {
			logger.Warn("event store close failed", "error", cerr)
		}
	}()

	registry := tools.NewRegistry()
	runner := tools.NewExternalRunner()
	dispatcher := tools.NewDispatcher(registry, runner)

	mtx := metrics.New()
	agentCfg := agentfsm.Config{MaxToolTurns: cfg.Limits.MaxToolTurns}
	systemPromptPath := filepath.Join(defaultDataDir(), "system", "prompt.md")

	mgr := session.New(defaultSessionID, systemPromptPath, es, dispatcher, newAdapterFactory(cfg), agentCfg, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	restored, err := mgr.Bootstrap(ctx)
	if err != nil {
		return ikerr.Wrap(ikerr.IO, "runServe", "bootstrap session: %v", err)
	}
	for _, a := range restored.Agents {
		a.WithMetrics(mtx)
	}

	var lines <-chan string
	if headless {
		// A headless run has no TTY to read lines from; input arrives
		// exclusively through the control socket's send_keys requests,
		// which InjectKeys feeds into the same byte-at-a-time path
		// (spec.md §6 CLI, §4.8 Control Socket).
		lines = make(chan string)
	} else {
		lines = eventloop.NewLineScanner(os.Stdin)
	}

	// loopRef is filled in once eventloop.New returns, below. The
	// control-socket callbacks and the fork function both need to reach
	// back into the loop (for its current agent, its injected-key buffer,
	// and for looking up a fork's parent among agents registered after
	// startup) but the loop itself must be constructed with these
	// callbacks already bound — so each closes over a pointer that is nil
	// until Run's caller fills it in, a heap-allocated forward reference
	// rather than a circular constructor.
	var loopRef *eventloop.Loop

	opts := []eventloop.Option{
		eventloop.WithForkFunc(func(ctx context.Context, parentID, prompt string) (*agentfsm.Agent, error) {
			parent, ok := loopRef.GetAgent(parentID)
			if !ok {
				return nil, ikerr.Wrap(ikerr.NotFound, "fork", "no such agent %q", parentID)
			}
			child, err := mgr.Fork(ctx, parent, prompt)
			if err != nil {
				return nil, err
			}
			child.WithMetrics(mtx)
			return child, nil
		}),
	}

	sockPath, ok := controlSocketPath(cfg)
	if ok {
		srv, err := controlsocket.New(sockPath,
			func() controlsocket.Framebuffer {
				a, ok := loopRef.CurrentAgent()
				if !ok {
					return controlsocket.Framebuffer{}
				}
				return controlsocket.FromScrollback(a.Scrollback)
			},
			func(keys string) error {
				return loopRef.InjectKeys(keys)
			},
		)
		if err != nil {
			return ikerr.Wrap(ikerr.IO, "runServe", "start control socket: %v", err)
		}
		defer func() { _ = srv.Close() }()
		opts = append(opts, eventloop.WithControlSocket(srv))
	}

	loop := eventloop.New(restored.Agents, restored.RootID, lines, logger, opts...)
	loopRef = loop

	logger.Info("ikigai starting", "session", defaultSessionID, "headless", headless, "agents", len(restored.Agents))
	return loop.Run(ctx)
}

// controlSocketPath computes the Unix socket path spec.md §4.8 describes
// (<runtime_dir>/ikigai-<pid>.sock), reporting ok=false when the runtime
// directory is unset — the control socket is then simply not started,
// rather than failing startup.
func controlSocketPath(cfg *config.Config) (string, bool) {
	dir := cfg.RuntimeDir
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, "ikigai-"+strconv.Itoa(os.Getpid())+".sock"), true
}

// defaultDataDir is the directory the fresh-install bootstrap's synthetic
// pin command points at (spec.md S5), overridable in a real install by
// packaging/config concerns out of this core's scope.
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ikigai")
	}
	return "."
}
