package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/engine"
	"github.com/hochfrequenz/repo-rlm/internal/observer"
	"github.com/hochfrequenz/repo-rlm/tui"
	"github.com/spf13/cobra"
)

var (
	startMode        string
	startDomain      string
	startPaths       []string
	startScheduler   string
	startMaxDepth    int
	startMaxLLMCalls int
	startMaxTokens   int
	startWallClock   time.Duration
	startRun         bool
	stepCount        int
	runMaxSteps      int
)

func init() {
	// start command
	startCmd := &cobra.Command{
		Use:   "start OBJECTIVE",
		Short: "Create a run; nothing is processed until it is stepped",
		Args:  cobra.ExactArgs(1),
		RunE:  runStartCmd,
	}
	startCmd.Flags().StringVar(&startMode, "mode", string(domain.ModeGeneric), "generic, review or wiki")
	startCmd.Flags().StringVar(&startDomain, "domain", "", "domain hint passed to the executor")
	startCmd.Flags().StringSliceVar(&startPaths, "path", nil, "root scope paths relative to --root (default: whole root)")
	startCmd.Flags().StringVar(&startScheduler, "scheduler", "", "bfs or dfs (default from config)")
	startCmd.Flags().IntVar(&startMaxDepth, "max-depth", -1, "maximum tree depth (default from config)")
	startCmd.Flags().IntVar(&startMaxLLMCalls, "max-llm-calls", 0, "LLM call budget (default from config)")
	startCmd.Flags().IntVar(&startMaxTokens, "max-tokens", 0, "token budget (default from config)")
	startCmd.Flags().DurationVar(&startWallClock, "max-wall-clock", 0, "processing time budget (default from config)")
	startCmd.Flags().BoolVar(&startRun, "run", false, "step the run to completion right away")
	rootCmd.AddCommand(startCmd)

	// step command
	stepCmd := &cobra.Command{
		Use:   "step RUN_ID",
		Short: "Process up to --count steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runStepCmd,
	}
	stepCmd.Flags().IntVar(&stepCount, "count", 1, "maximum number of steps")
	rootCmd.AddCommand(stepCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run RUN_ID",
		Short: "Step a run until it completes, fails or is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunCmd,
	}
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 10000, "stop after this many steps")
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Show run status, budgets and node counts",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusCmd,
	}
	rootCmd.AddCommand(statusCmd)

	// cancel command
	cancelCmd := &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a running run at the next step boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle(args[0], (*engine.Engine).CancelRun)
		},
	}
	rootCmd.AddCommand(cancelCmd)

	// resume command
	resumeCmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Make a cancelled run runnable again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle(args[0], (*engine.Engine).ResumeRun)
		},
	}
	rootCmd.AddCommand(resumeCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM. A leaf interrupted this
// way is requeued and re-executed by the next step.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runStartCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Defaults
	if startScheduler != "" {
		cfg.Scheduler = domain.SchedulerPolicy(strings.ToLower(startScheduler))
	}
	if startMaxDepth >= 0 {
		cfg.MaxDepth = startMaxDepth
	}
	if startMaxLLMCalls > 0 {
		cfg.MaxLLMCalls = startMaxLLMCalls
	}
	if startMaxTokens > 0 {
		cfg.MaxTokens = startMaxTokens
	}
	if startWallClock > 0 {
		cfg.MaxWallClockMs = startWallClock.Milliseconds()
	}

	ctx, stop := signalContext()
	defer stop()

	run, err := a.engine.StartRun(ctx, engine.StartParams{
		Objective:  args[0],
		Mode:       domain.Mode(strings.ToLower(startMode)),
		Domain:     startDomain,
		Root:       a.root,
		ScopePaths: startPaths,
		Config:     &cfg,
	})
	if err != nil {
		return err
	}
	fmt.Println(run.ID)

	if !startRun {
		return nil
	}
	return driveRun(ctx, a, run.ID, runMaxSteps)
}

func runStepCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	report, err := a.engine.ExecuteStep(ctx, args[0], stepCount)
	if report != nil {
		for _, id := range report.ProcessedNodes {
			fmt.Printf("processed %s\n", id)
		}
		if report.Run != nil {
			printRunLine(report.Run)
		}
	}
	return err
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	return driveRun(ctx, a, args[0], runMaxSteps)
}

// driveRun steps a run one node at a time, printing progress
func driveRun(ctx context.Context, a *app, runID string, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		report, err := a.engine.ExecuteStep(ctx, runID, 1)
		if report != nil {
			for _, id := range report.ProcessedNodes {
				fmt.Printf("processed %s\n", id)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("interrupted; the run can be continued with `repo-rlm run`")
			}
			return err
		}
		if len(report.ProcessedNodes) == 0 || report.Run.Status.Terminal() {
			printRunLine(report.Run)
			return nil
		}
	}
	st, err := a.engine.GetStatus(ctx, runID)
	if err != nil {
		return err
	}
	printRunLine(st.Run)
	return nil
}

func printRunLine(run *domain.Run) {
	line := fmt.Sprintf("run %s: %s (llm calls %d/%d, tokens %d/%d)",
		run.ID, run.Status,
		run.Counters.LLMCallsUsed, run.Config.MaxLLMCalls,
		run.Counters.TokensUsed, run.Config.MaxTokens)
	if run.FailureReason != "" {
		line += ": " + run.FailureReason
	}
	fmt.Println(line)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.engine.GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Print(tui.RenderStatus(st.Run, st.Nodes, st.ResultCount))

	if observer.New(10*time.Minute).IsStuck(st.Run, st.Nodes, time.Now()) {
		fmt.Println("\nA node has been processing for over 10 minutes without progress.")
		fmt.Println("If no process is stepping this run, the next step will requeue it.")
	}
	return nil
}

func lifecycle(runID string, fn func(*engine.Engine, context.Context, string) (*domain.Run, error)) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := fn(a.engine, context.Background(), runID)
	if err != nil {
		return err
	}
	printRunLine(run)
	return nil
}
