package planning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/engine"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/render"
	"github.com/Iron-Ham/conductor/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <task text>",
	Short: "Show which worker a task routes to",
	Long: `Score a task description against the worker keyword tables and show
the routing decision.

Action verbs count twice as much as domain nouns. A task routes directly
only when the best score is high enough and clearly ahead of the runner-up;
otherwise it is deferred to the planning role.

Examples:
  conductor route "implement the login handler"
  conductor route --json "review the database migration"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

var routeJSON bool

func init() {
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "Output the routing result as JSON")
}

// RegisterRouteCmd registers the route command with the given parent command.
func RegisterRouteCmd(parent *cobra.Command) {
	parent.AddCommand(routeCmd)
}

// RouteOutput is the JSON output format for routing results.
type RouteOutput struct {
	Task       string        `json:"task"`
	Actionable bool          `json:"actionable"`
	Category   string        `json:"category"`
	Result     router.Result `json:"result"`
}

func routeTask(cmd *cobra.Command, task string) (RouteOutput, error) {
	cfg, err := loadConfig()
	if err != nil {
		return RouteOutput{}, err
	}

	logger := logging.NopLogger()
	bus := event.NewBus(logger)
	r, stop, err := buildRouter(cmd.Context(), cfg, nil, logger, bus)
	if err != nil {
		return RouteOutput{}, err
	}
	defer stop()

	e, err := engine.New(cfg, nil, engine.WithLogger(logger), engine.WithBus(bus), engine.WithRouter(r))
	if err != nil {
		return RouteOutput{}, err
	}

	signal := e.Classify(task)
	return RouteOutput{
		Task:       task,
		Actionable: signal.IsActionable,
		Category:   signal.Category,
		Result:     e.Route(task),
	}, nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")
	out, err := routeTask(cmd, task)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if routeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !out.Actionable {
		fmt.Fprintf(w, "%s\n", render.Muted.Render(fmt.Sprintf("(%s: would be stub-completed, not dispatched)", out.Category)))
	}
	fmt.Fprintln(w, render.Route(out.Result))
	return nil
}
