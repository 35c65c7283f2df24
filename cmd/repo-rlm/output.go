package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/prompts"
	"github.com/spf13/cobra"
)

var (
	listStatus     string
	listMode       string
	listLimit      int
	synthesizeMode string
	exportFormat   string
	logsLimit      int
)

func init() {
	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE:  runListCmd,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listMode, "mode", "", "filter by mode")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of runs")
	rootCmd.AddCommand(listCmd)

	// synthesize command
	synthesizeCmd := &cobra.Command{
		Use:   "synthesize RUN_ID",
		Short: "Write the mode artifacts of a completed run",
		Args:  cobra.ExactArgs(1),
		RunE:  runSynthesizeCmd,
	}
	synthesizeCmd.Flags().StringVar(&synthesizeMode, "mode", "", "artifact mode (default: the run's mode)")
	rootCmd.AddCommand(synthesizeCmd)

	// export command
	exportCmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Write a snapshot of a run as json, markdown or html",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportCmd,
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json, markdown or html")
	rootCmd.AddCommand(exportCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Show the event log of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogsCmd,
	}
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "show the last N events (0 for all)")
	rootCmd.AddCommand(logsCmd)

	// reindex command
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the run catalog from the run directories",
		RunE:  runReindexCmd,
	}
	rootCmd.AddCommand(reindexCmd)

	// prompts command
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "List the leaf prompt templates and where overrides are read from",
		RunE:  runPromptsCmd,
	}
	rootCmd.AddCommand(promptsCmd)
}

func runListCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.engine.ListRuns(cmd.Context(), catalog.ListOptions{
		Status: domain.RunStatus(listStatus),
		Mode:   domain.Mode(listMode),
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tNODES\tLLM CALLS\tCREATED\tOBJECTIVE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			r.ID, r.Mode, r.Status, r.DoneCount, r.NodeCount,
			r.Counters.LLMCallsUsed, r.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(r.Objective, 50))
	}
	return w.Flush()
}

func runSynthesizeCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	artifacts, err := a.engine.SynthesizeRun(cmd.Context(), args[0], domain.Mode(strings.ToLower(synthesizeMode)))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, art := range artifacts {
		fmt.Fprintf(w, "%s\t%s\n", art.Kind, art.Path)
	}
	return w.Flush()
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := a.engine.ExportRun(cmd.Context(), args[0], exportFormat)
	if err != nil {
		return err
	}
	fmt.Println(art.Path)
	return nil
}

func runLogsCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.engine.Events(cmd.Context(), args[0], logsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events (run `repo-rlm reindex` if the catalog was removed)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		node := ev.NodeID
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp.Local().Format("15:04:05.000"), ev.Kind, node, ev.Message)
	}
	return w.Flush()
}

func runReindexCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d runs\n", n)
	return nil
}

func runPromptsCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	templates, err := prompts.DefaultLoader(a.stateDir).ListLeafTemplates()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODES\tDESCRIPTION")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, strings.Join(t.Modes, ","), t.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nOverrides are read from %s/prompts and ~/.config/repo-rlm/prompts\n", a.stateDir)
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
