package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/models"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manually add or edit questions",
}

var questionsAddCmd = &cobra.Command{
	Use:   "add <run-id> [file]",
	Short: "Append a question to a finished run",
	Long: `Append a manually written question to a completed or partial run,
for topping up a run that fell short of its target. The question is read
as JSON from a file or stdin:

  {
    "question": "Which article abolishes untouchability?",
    "options": [
      {"label": "A", "text": "Article 15"},
      {"label": "B", "text": "Article 17"}
    ],
    "correct_option": "B",
    "explanation": "...",
    "difficulty": "easy",
    "topic_tag": "polity"
  }`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuestionsAdd,
}

var questionsEditCmd = &cobra.Command{
	Use:   "edit <question-id> [file]",
	Short: "Edit a persisted question",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runQuestionsEdit,
}

func init() {
	questionsCmd.AddCommand(questionsAddCmd)
	questionsCmd.AddCommand(questionsEditCmd)
}

func readQuestionInput(args []string) (models.QuestionInput, error) {
	var input models.QuestionInput

	var data []byte
	var err error
	if len(args) == 2 && args[1] != "-" {
		data, err = os.ReadFile(args[1])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return input, fmt.Errorf("read question: %w", err)
	}

	if err := json.Unmarshal(data, &input); err != nil {
		return input, fmt.Errorf("parse question JSON: %w", err)
	}
	if input.Stem == "" {
		return input, fmt.Errorf("question stem is required")
	}
	return input, nil
}

func runQuestionsAdd(cmd *cobra.Command, args []string) error {
	input, err := readQuestionInput(args)
	if err != nil {
		return err
	}

	q, err := apiClient.AppendQuestion(context.Background(), args[0], input)
	if err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	fmt.Printf("Question %v added to run %s at position %d\n", q.ID.ID, args[0], q.SortOrder+1)
	return nil
}

func runQuestionsEdit(cmd *cobra.Command, args []string) error {
	input, err := readQuestionInput(args)
	if err != nil {
		return err
	}

	q, err := apiClient.UpdateQuestion(context.Background(), args[0], input)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	fmt.Printf("Question %v updated\n", q.ID.ID)
	return nil
}
