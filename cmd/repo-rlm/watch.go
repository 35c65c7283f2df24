package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/repo-rlm/internal/daemon"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/engine"
	"github.com/hochfrequenz/repo-rlm/internal/observer"
	"github.com/hochfrequenz/repo-rlm/tui"
	"github.com/spf13/cobra"
)

func init() {
	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch RUN_ID",
		Short: "Print a status line whenever a run changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchCmd,
	}
	rootCmd.AddCommand(watchCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui RUN_ID",
		Short: "Launch the run dashboard",
		Args:  cobra.ExactArgs(1),
		RunE:  runTUICmd,
	}
	rootCmd.AddCommand(tuiCmd)

	// daemon command
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Advance pending and running runs on the configured schedule",
		RunE:  runDaemonCmd,
	}
	rootCmd.AddCommand(daemonCmd)
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runID := args[0]
	st, err := a.engine.GetStatus(cmd.Context(), runID)
	if err != nil {
		return err
	}
	printRunLine(st.Run)
	if st.Run.Status.Terminal() {
		return nil
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan struct{}, 1)
	rw, err := observer.NewRunWatcher(filepath.Join(a.stateDir, engine.RunsDir), func(ids []string) {
		for _, id := range ids {
			if id == runID {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}
	})
	if err != nil {
		return err
	}
	rw.Start(ctx)
	defer rw.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
		st, err := a.engine.GetStatus(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		counts := st.Counts()
		line := fmt.Sprintf("%s: %d nodes, %d done, %d results, llm calls %d",
			st.Run.Status, len(st.Nodes), counts[domain.NodeDone], st.ResultCount, st.Run.Counters.LLMCallsUsed)
		if line != last {
			fmt.Println(line)
			last = line
		}
		if st.Run.Status.Terminal() {
			printRunLine(st.Run)
			return nil
		}
	}
}

func runTUICmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runID := args[0]
	if _, err := a.engine.GetStatus(cmd.Context(), runID); err != nil {
		return err
	}

	model := tui.NewModel(tui.ModelConfig{Source: a.engine, RunID: runID})
	p := tea.NewProgram(model, tea.WithAltScreen())

	rw, err := observer.NewRunWatcher(filepath.Join(a.stateDir, engine.RunsDir), func(ids []string) {
		for _, id := range ids {
			if id == runID {
				p.Send(tui.RunChangedMsg{})
				return
			}
		}
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rw.Start(ctx)
	defer rw.Stop()

	_, err = p.Run()
	return err
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := daemon.New(a.cfg.Daemon, a.engine, observer.New(10*time.Minute), a.log)
	if err != nil {
		return fmt.Errorf("[daemon]: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("daemon started (cron %q, %d steps per tick, %d runs in parallel)\n",
		a.cfg.Daemon.Cron, a.cfg.Daemon.StepsPerTick, a.cfg.Daemon.MaxParallelRuns)
	err = d.Run(ctx)
	m := d.Metrics()
	fmt.Printf("daemon stopped: %d batches, %d nodes processed\n", m.TotalBatches, m.TotalProcessed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
