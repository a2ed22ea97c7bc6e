// Package cli provides the command-line interface for quizforge.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// apiClient talks to the quizforge server. Initialized before every
	// command except serve, version and help.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "quizforge",
	Short: "MCQ generation from study documents",
	Long: `Quizforge turns extracted study documents into exam-style multiple
choice questions. Documents are chunked, question candidates are generated
in parallel, critiqued, deduplicated, and the best diverse set is kept.

Most commands talk to a running quizforge server (see 'quizforge serve').`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "serve" {
			return nil
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default QUIZFORGE_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
