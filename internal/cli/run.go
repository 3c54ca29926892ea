package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/worksonmyai/dirigent/internal/config"
	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/gitx"
	"github.com/worksonmyai/dirigent/internal/idle"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/transport"
	"github.com/worksonmyai/dirigent/internal/tui"
	"github.com/worksonmyai/dirigent/internal/workflow"
)

var (
	runTaskFile      string
	runMaxIterations int
	runBackground    bool
	runCreateBranch  bool
	runNoUI          bool
	runAlwaysStop    bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run the scripted workflow against the agent",
	Long: `Run starts a workflow for the given task text. The task can also be
read from a file with --file. Without --no-ui an interactive status
panel controls the run; with it, events stream to stdout and Ctrl+C
stops the run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := resolveTask(args)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.ApplyCLIFlags(runMaxIterations, runBackground, runCreateBranch)

		machine, monitor, err := buildEngine(cfg, task)
		if err != nil {
			return err
		}
		monitor.Start()
		defer monitor.Close()

		if runNoUI {
			return runHeadless(machine)
		}
		return tui.Run(machine, task)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTaskFile, "file", "f", "", "read the task description from a file")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override the development iteration ceiling")
	runCmd.Flags().BoolVar(&runBackground, "background", false, "avoid stealing focus from the operator")
	runCmd.Flags().BoolVar(&runCreateBranch, "branch", false, "create a work branch during initialization")
	runCmd.Flags().BoolVar(&runNoUI, "no-ui", false, "stream events to stdout instead of the status panel")
	runCmd.Flags().BoolVar(&runAlwaysStop, "single-pass", false, "terminate after one iteration regardless of the agent's answers")
}

func resolveTask(args []string) (string, error) {
	if runTaskFile != "" {
		data, err := os.ReadFile(runTaskFile) //nolint:gosec // operator's task file
		if err != nil {
			return "", fmt.Errorf("read task file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	return "", fmt.Errorf("no task given: pass task text or --file")
}

// engineConfig re-resolves configuration every time the engine asks for
// a snapshot, so operator edits to the config files take effect at the
// next phase boundary. When a reload changes the idle monitor's timer
// settings the monitor is retuned in place.
type engineConfig struct {
	load func() (*config.Config, error)

	mu      sync.Mutex
	base    config.Snapshot
	last    idle.Intervals
	monitor *idle.Monitor
}

func (e *engineConfig) attach(monitor *idle.Monitor) {
	e.mu.Lock()
	e.monitor = monitor
	e.mu.Unlock()
}

func (e *engineConfig) snapshot() config.Snapshot {
	snap, ok := e.reload()
	if !ok {
		return snap
	}

	iv := monitorIntervals(snap)
	e.mu.Lock()
	monitor := e.monitor
	changed := monitor != nil && iv != e.last
	if changed {
		e.last = iv
	}
	e.mu.Unlock()

	// Reconfigure blocks on timer shutdown; never hold the lock across it.
	if changed {
		monitor.Reconfigure(iv)
	}
	return snap
}

// reload resolves a fresh snapshot, falling back to the last good one
// when the config files have gone bad mid-run.
func (e *engineConfig) reload() (config.Snapshot, bool) {
	cfg, err := e.load()
	if err != nil {
		debug.Logf("cli: config reload failed, keeping previous settings: %v", err)
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.base, false
	}

	snap := cfg.Snapshot()
	e.mu.Lock()
	e.base = snap
	e.mu.Unlock()
	return snap, true
}

func monitorIntervals(snap config.Snapshot) idle.Intervals {
	return idle.Intervals{
		IdleTimeout: snap.IdleTimeout,
		CheckAgent:  snap.CheckAgentInterval,
		EnsureChat:  snap.EnsureChatInterval,
	}
}

// buildEngine wires the collaborators into a machine and its idle
// monitor.
func buildEngine(cfg *config.Config, task string) (*workflow.Machine, *idle.Monitor, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	snap := cfg.Snapshot()

	tr := transport.NewCLI(transport.CLIConfig{
		Binary:      cfg.Transport.Binary,
		ExtraFlags:  strings.Fields(cfg.Transport.ExtraFlags),
		WorkingDir:  workDir,
		SendTimeout: time.Duration(cfg.Transport.SendTimeoutSeconds) * time.Second,
	})

	var git workflow.Brancher
	if gitx.IsInsideRepo(workDir) {
		repo, err := gitx.NewRepo(workDir, cfg.Git.BranchPrefix)
		if err != nil {
			return nil, nil, err
		}
		git = brancher{repo}
	} else if cfg.InitCreateBranch {
		debug.Logf("cli: branch creation requested but %s is not a git repository", workDir)
	}

	var decider workflow.Decider = workflow.KeywordDecider{}
	if runAlwaysStop {
		decider = workflow.StopDecider{}
	}

	ec := &engineConfig{
		base: snap,
		last: monitorIntervals(snap),
		load: func() (*config.Config, error) {
			fresh, err := config.Load()
			if err != nil {
				return nil, err
			}
			fresh.ApplyCLIFlags(runMaxIterations, runBackground, runCreateBranch)
			return fresh, nil
		},
	}

	machine := workflow.NewMachine(workflow.Options{
		Transport: tr,
		Git:       git,
		Store:     prompts.NewStore(cfg.ConfigDir(), cfg.LocalDir()),
		Render:    prompts.Render,
		Decider:   decider,
		Config:    ec.snapshot,
		Task:      task,
	})

	monitor := idle.New(machine, ec.last)
	ec.attach(monitor)

	return machine, monitor, nil
}

// brancher adapts gitx.Repo to the workflow contract.
type brancher struct {
	repo *gitx.Repo
}

func (b brancher) CreateAndCheckoutBranch(slug string) (string, error) {
	return b.repo.CreateAndCheckoutBranch(slug)
}

// runHeadless streams events to stdout and maps Ctrl+C to stop.
func runHeadless(machine *workflow.Machine) error {
	machine.Publisher().Subscribe(func(e event.Event) {
		switch e.Kind {
		case event.KindPhase:
			if e.Text != "" {
				fmt.Printf("▸ %s (%s)\n", e.Phase, e.Text)
			} else {
				fmt.Printf("▸ %s\n", e.Phase)
			}
		case event.KindSend:
			fmt.Printf("→ %s\n", e.Text)
		case event.KindReply:
			fmt.Println(e.Text)
		case event.KindWarning:
			fmt.Printf("! %s\n", e.Text)
		case event.KindNotice:
			fmt.Printf("** %s\n", e.Text)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("stopping...")
		machine.Stop()
	}()

	if err := machine.Start(); err != nil {
		return err
	}
	if machine.Run().Phase() == protocol.PhaseError {
		return fmt.Errorf("workflow ended in error")
	}
	return nil
}
