package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/service"
)

var (
	generateCount      int
	generateDifficulty string
	generateTitle      string
	generateExport     bool
	generateNoWait     bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <document-id>",
	Short: "Generate questions for a document",
	Long: `Start a generation run for an extracted document and follow its
progress until it finishes.

Examples:
  quizforge generate doc123
  quizforge generate doc123 --count 15 --difficulty hard
  quizforge generate doc123 --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 10, "number of questions to generate (1-30)")
	generateCmd.Flags().StringVarP(&generateDifficulty, "difficulty", "d", "medium", "difficulty: easy, medium, or hard")
	generateCmd.Flags().StringVar(&generateTitle, "title", "", "run title")
	generateCmd.Flags().BoolVar(&generateExport, "export", false, "write a JSON export artifact when the run finishes")
	generateCmd.Flags().BoolVar(&generateNoWait, "no-wait", false, "start the run and return immediately")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	req := service.StartRunRequest{
		DocumentID:      args[0],
		TargetQuestions: generateCount,
		Difficulty:      generateDifficulty,
		ExportResult:    generateExport,
	}
	if generateTitle != "" {
		req.Title = &generateTitle
	}

	run, err := apiClient.StartRun(ctx, req)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	runID := fmt.Sprintf("%v", run.ID.ID)
	if generateNoWait {
		fmt.Printf("Run %s started (target %d, %s)\n", runID, run.TargetQuestions, run.Difficulty)
		fmt.Printf("Follow it with 'quizforge status %s' or 'quizforge watch %s'\n", runID, runID)
		return nil
	}

	if err := RunProgress(apiClient, runID); err != nil {
		return err
	}

	// Print the surviving questions once the run is terminal.
	result, err := apiClient.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run result: %w", err)
	}
	printQuestions(result)
	return nil
}

func printQuestions(result *service.RunResultView) {
	run := result.Run
	fmt.Printf("\nRun %v: %s (%d/%d questions)\n", run.ID.ID, run.Status,
		len(result.Questions), run.TargetQuestions)
	if run.PartialReason != nil {
		fmt.Printf("  Note: %s\n", *run.PartialReason)
	}
	if run.EstimatedCostUSD != nil {
		fmt.Printf("  Tokens: %d in / %d out, estimated cost $%.4f\n",
			run.InputTokens, run.OutputTokens, *run.EstimatedCostUSD)
	}

	for _, q := range result.Questions {
		fmt.Printf("\n%d. %s  [%s, %s]\n", q.SortOrder+1, q.Stem, q.Difficulty, q.TopicTag)
		for _, opt := range q.Options {
			marker := " "
			if opt.Label == q.CorrectOption {
				marker = "*"
			}
			fmt.Printf("  %s %s) %s\n", marker, opt.Label, opt.Text)
		}
		if verbose && q.Explanation != "" {
			fmt.Printf("     %s\n", q.Explanation)
		}
	}
}
