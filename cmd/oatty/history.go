package main

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"oatty/internal/config"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and purge run history",
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge [workflow]",
	Short: "Delete run-history records",
	Long:  "Delete run-history records. With no workflow id, every journal file is scanned. With --input-key, only records whose recorded inputs contain one of the given keys are removed; otherwise whole matching journal files are deleted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryPurge,
}

func init() {
	historyPurgeCmd.Flags().StringSlice("input-key", nil, "Only remove records whose inputs contain one of these keys (repeatable, comma-separated)")
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	var workflowID string
	if len(args) == 1 {
		workflowID = args[0]
	}
	keys, _ := cmd.Flags().GetStringSlice("input-key")

	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	result, err := a.history.Purge(workflowID, keys)
	if err != nil {
		return fmt.Errorf("purge history: %w", err)
	}

	fmt.Printf("Removed %d record(s) across %d file(s)\n", result.RecordsRemoved, result.FilesRemoved)
	return nil
}

var historyListCmd = &cobra.Command{
	Use:   "list [workflow]",
	Short: "List run-history journal files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryList,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	dir := config.HistoryDir()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			fmt.Println("No run history yet.")
			return nil
		}
		return fmt.Errorf("list history dir: %w", err)
	}

	var workflowID string
	if len(args) == 1 {
		workflowID = args[0]
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if workflowID != "" && id != workflowID {
			continue
		}
		fmt.Printf("%s\t%d bytes\n", id, e.Size())
	}
	return nil
}
