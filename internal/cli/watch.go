package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/service"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Stream run status over the server websocket",
	Long: `Stream live status updates for a run until it reaches a terminal
state. Ctrl+C detaches; the run keeps going on the server.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := apiClient.WatchRun(ctx, args[0], func(status *service.RunStatusInfo) error {
		fmt.Printf("[%-15s] %3.0f%%  %s\n", status.Status, status.Progress*100, status.Message)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		fmt.Println("Detached; the run continues on the server.")
		return nil
	}
	return err
}
