package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/quizforge/quizforge/internal/client"
	"github.com/quizforge/quizforge/internal/service"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run status
type tickMsg time.Time

// statusUpdateMsg carries the updated run status
type statusUpdateMsg struct {
	status *service.RunStatusInfo
	err    error
}

// progressModel is the bubbletea model for run progress.
type progressModel struct {
	client   *client.Client
	runID    string
	status   *service.RunStatusInfo
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, runID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		runID:    runID,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch run status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.status = msg.status

		if m.status.Status.Terminal() {
			m.done = true
			if m.status.FailureReason != nil {
				m.err = fmt.Errorf("%s", *m.status.FailureReason)
			}
			return m, tea.Quit
		}

		// Continue polling for active runs
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Loading run status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status.Status))
	progressBar := m.progress.ViewAs(m.status.Progress)
	counts := fmt.Sprintf("%d candidates", m.status.QuestionsGenerated)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, progressBar, counts,
		m.status.Message, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'quizforge status %s' to check on it.\n",
			m.runID, m.runID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run failed: %s\n", m.err))
	}

	if m.status != nil {
		out := m.theme.completedStyle().Render(fmt.Sprintf("✓ %s", m.status.Message)) + "\n"
		if m.status.PartialReason != nil {
			out += m.theme.hintStyle().Render("  "+*m.status.PartialReason) + "\n"
		}
		return out
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchStatus fetches the current run status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.client.GetRunStatus(ctx, m.runID)
		return statusUpdateMsg{status: status, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunProgress runs the interactive progress UI for a run.
// Returns nil on success or Ctrl+C (background), error on run failure.
func RunProgress(c *client.Client, runID string) error {
	model := newProgressModel(c, runID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
