package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show run progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a pending or generating run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runStatus(cmd *cobra.Command, args []string) error {
	info, err := apiClient.GetRunStatus(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}

	fmt.Printf("Run: %s\n", info.ID)
	fmt.Printf("  Status: %s", info.Status)
	if info.Stale {
		fmt.Printf(" (stale)")
	}
	fmt.Println()
	fmt.Printf("  Progress: %.0f%%  %s\n", info.Progress*100, info.Message)
	fmt.Printf("  Candidates: %d (target %d), workers done: %d\n",
		info.QuestionsGenerated, info.TargetQuestions, info.WorkersCompleted)
	if info.ElapsedSeconds != nil {
		fmt.Printf("  Elapsed: %ds\n", *info.ElapsedSeconds)
	}
	if info.FailureReason != nil {
		fmt.Printf("  Failure: %s\n", *info.FailureReason)
	}
	if info.PartialReason != nil {
		fmt.Printf("  Partial: %s\n", *info.PartialReason)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	run, err := apiClient.CancelRun(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	fmt.Printf("Run %v is now %s\n", run.ID.ID, run.Status)
	return nil
}
