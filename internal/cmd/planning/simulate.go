package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/checkpoint"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/engine"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/planfile"
	"github.com/Iron-Ham/conductor/internal/render"
	"github.com/Iron-Ham/conductor/internal/step"
	"github.com/Iron-Ham/conductor/internal/worker"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [plan-file]",
	Short: "Run a plan through the engine without real workers",
	Long: `Run a plan through the full execution loop: safety validation, scheduling,
retries, escalation and progress tracking.

No worker is registered by default, so every step is stub-completed in
dependency order. With --dispatch, every worker named in the plan (except
the planning role) is registered as an echo worker that completes its
step with the step's task text.

Without a plan file, --task looks up the step list remembered for a
similar task (requires memory.enabled).

Examples:
  conductor simulate plan.yaml
  conductor simulate --dispatch --mode parallel --events plan.yaml
  conductor simulate --task "ship the login page"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

var (
	simulateMode     string
	simulateDispatch bool
	simulateEvents   bool
	simulateVerbose  bool
	simulateJSON     bool
	simulateOut      string
	simulateTask     string
)

func init() {
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "", "Execution mode override (sequential or parallel)")
	simulateCmd.Flags().BoolVar(&simulateDispatch, "dispatch", false, "Register echo workers for the plan's workers")
	simulateCmd.Flags().BoolVar(&simulateEvents, "events", false, "Print engine events as they happen")
	simulateCmd.Flags().BoolVarP(&simulateVerbose, "verbose", "v", false, "Write logs to stderr")
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "Output the final plan as JSON")
	simulateCmd.Flags().StringVarP(&simulateOut, "out", "o", "", "Write the final plan to this YAML file")
	simulateCmd.Flags().StringVar(&simulateTask, "task", "", "Task to look up in plan memory when no plan file is given")
}

// RegisterSimulateCmd registers the simulate command with the given parent command.
func RegisterSimulateCmd(parent *cobra.Command) {
	parent.AddCommand(simulateCmd)
}

// echoRegistry registers an echo worker for every worker the plan names,
// skipping the planning role.
func echoRegistry(plan *step.TaskPlan, planningRole string) (*worker.Registry, error) {
	reg, err := worker.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, s := range plan.Steps {
		if s.Worker == "" || s.Worker == planningRole || reg.Has(s.Worker) {
			continue
		}
		name := s.Worker
		if err := reg.Register(worker.Func{
			WorkerName: name,
			Tags:       []string{"echo"},
			ExecuteFn: func(ctx context.Context, st step.ExecutionStep) (worker.Result, error) {
				if err := ctx.Err(); err != nil {
					return worker.Result{}, err
				}
				return worker.Result{Output: st.Task}, nil
			},
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// printEvents writes one line per event to w.
func printEvents(w io.Writer) event.Handler {
	var mu sync.Mutex
	return func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev := e.(type) {
		case event.StepTransitionEvent:
			fmt.Fprintf(w, "%s %-20s %s %s -> %s %s\n", ev.Timestamp().Format(time.TimeOnly), ev.EventType(), ev.StepID, ev.From, ev.To, ev.Reason)
		default:
			fmt.Fprintf(w, "%s %s\n", e.Timestamp().Format(time.TimeOnly), e.EventType())
		}
	}
}

type simulation struct {
	store  *checkpoint.Store
	memory *checkpoint.Memory
}

func (s *simulation) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func openSimulation(cfg *config.Config) (*simulation, error) {
	sim := &simulation{}
	if !cfg.Checkpoint.Enabled && !cfg.Memory.Enabled {
		return sim, nil
	}
	store, err := checkpoint.Open(cfg.Checkpoint.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	sim.store = store
	if cfg.Memory.Enabled {
		sim.memory = checkpoint.NewMemory(store)
	}
	return sim, nil
}

func (s *simulation) loadPlan(ctx context.Context, args []string) (*step.TaskPlan, error) {
	if len(args) > 0 {
		return planfile.Load(args[0])
	}
	if simulateTask == "" {
		return nil, fmt.Errorf("a plan file or --task is required")
	}
	if s.memory == nil {
		return nil, fmt.Errorf("--task needs memory.enabled")
	}
	steps, err := s.memory.Suggest(ctx, simulateTask)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no remembered plan for task %q", simulateTask)
	}
	return step.NewPlan(simulateTask, steps, time.Now()), nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simulateMode != "" {
		cfg.Execution.Mode = simulateMode
		if errs := cfg.Validate(); len(errs) > 0 {
			return config.ValidationErrors(errs)
		}
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr(), simulateVerbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	sim, err := openSimulation(cfg)
	if err != nil {
		return err
	}
	defer sim.close()

	plan, err := sim.loadPlan(ctx, args)
	if err != nil {
		return err
	}

	reg, err := worker.NewRegistry()
	if err != nil {
		return err
	}
	if simulateDispatch {
		if reg, err = echoRegistry(plan, cfg.Execution.PlanningRole); err != nil {
			return err
		}
	}

	bus := event.NewBus(logger)
	if simulateEvents {
		bus.SubscribeAll(printEvents(w))
	}

	r, stop, err := buildRouter(ctx, cfg, reg, logger, bus)
	if err != nil {
		return err
	}
	defer stop()

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithBus(bus),
		engine.WithRouter(r),
	}
	if sim.store != nil && cfg.Checkpoint.Enabled {
		if err := sim.store.SavePlan(ctx, plan); err != nil {
			return err
		}
		opts = append(opts, engine.WithCheckpointer(sim.store))
	}
	if sim.memory != nil {
		opts = append(opts, engine.WithMemory(sim.memory))
	}

	e, err := engine.New(cfg, reg, opts...)
	if err != nil {
		return err
	}

	result, runErr := e.Run(ctx, plan)
	if result == nil {
		return runErr
	}

	if simulateOut != "" {
		if err := planfile.Save(simulateOut, result); err != nil {
			return err
		}
	}

	if simulateJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return runErr
	}

	snap := ledger.Compute(result, time.Now(), cfg.Ledger)
	fmt.Fprintln(w, render.Plan(result, snap))
	if esc := render.Escalations(e.Escalations()); esc != "" {
		fmt.Fprintln(w, esc)
	}
	return runErr
}
