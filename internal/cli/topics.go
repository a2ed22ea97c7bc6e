package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the topic taxonomy",
	Args:  cobra.NoArgs,
	RunE:  runTopics,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show in-memory runtime statistics (reset on server restart) and
persistent run totals for cost monitoring.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runTopics(cmd *cobra.Command, args []string) error {
	topics, err := apiClient.ListTopics(context.Background())
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	if len(topics) == 0 {
		fmt.Println("No topics seeded")
		return nil
	}

	fmt.Printf("%-16s %s\n", "SLUG", "NAME")
	fmt.Println("----------------------------------------")
	for _, t := range topics {
		fmt.Printf("%-16s %s\n", t.Slug, t.Name)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.GetStats(context.Background())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Printf("Run counts:\n")
	for _, c := range stats.RunCounts {
		fmt.Printf("  %-16s %d\n", c.Status, c.Count)
	}

	if t := stats.Totals; t != nil {
		fmt.Printf("\nTotals:\n")
		fmt.Printf("  Runs:      %d\n", t.Runs)
		fmt.Printf("  Questions: %d\n", t.Questions)
		fmt.Printf("  Tokens:    %d in / %d out\n", t.InputTokens, t.OutputTokens)
		fmt.Printf("  Est. cost: $%.4f\n", t.EstimatedCostUSD)
	}

	if verbose && len(stats.Runtime) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(stats.Runtime, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("\nRuntime (since restart):\n%s\n", out)
		}
	}
	return nil
}
