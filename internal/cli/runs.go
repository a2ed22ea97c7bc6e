package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runsDocument string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List runs or show a run with its questions",
	Long: `List recent generation runs, or show one run with its questions.

Examples:
  quizforge runs                    # List recent runs
  quizforge runs --document doc123  # Runs for one document
  quizforge runs run456             # Show run456 with questions`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsDocument, "document", "", "filter by document ID")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		result, err := apiClient.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		printQuestions(result)
		return nil
	}

	runs, err := apiClient.ListRuns(ctx, runsDocument, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-14s %-16s %-10s %10s  %s\n", "ID", "STATUS", "QUESTIONS", "DIFFICULTY", "CREATED")
	fmt.Println("----------------------------------------------------------------------")
	for _, r := range runs {
		fmt.Printf("%-14v %-16s %4d/%-5d %10s  %s\n",
			r.ID.ID, r.Status, r.QuestionsGenerated, r.TargetQuestions,
			r.Difficulty, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
