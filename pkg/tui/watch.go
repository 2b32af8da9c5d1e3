// Package tui renders live submission progress in the terminal.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	taskprogress "github.com/entrhq/reimburse/pkg/progress"
)

// DefaultInterval is how often the watcher polls.
const DefaultInterval = 500 * time.Millisecond

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")

	titleStyle   = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	messageStyle = lipgloss.NewStyle().Foreground(mintGreen)
	hintStyle    = lipgloss.NewStyle().Foreground(mutedGray).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(salmonPink)
)

// Fetcher returns the current progress of a task.
type Fetcher interface {
	Fetch(ctx context.Context, taskID string) (taskprogress.Update, error)
}

// SourceFetcher reads an in-process progress table.
type SourceFetcher struct {
	Source taskprogress.Source
}

// Fetch implements Fetcher.
func (f SourceFetcher) Fetch(_ context.Context, taskID string) (taskprogress.Update, error) {
	return f.Source.Get(taskID), nil
}

// HTTPFetcher polls a server's /api/submit-progress endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, taskID string) (taskprogress.Update, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	target := strings.TrimRight(f.BaseURL, "/") + "/api/submit-progress?taskId=" + url.QueryEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return taskprogress.Update{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return taskprogress.Update{}, fmt.Errorf("poll progress: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return taskprogress.Update{}, fmt.Errorf("poll progress: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return taskprogress.Update{}, fmt.Errorf("decode progress: %w", err)
	}
	return taskprogress.Update{Percentage: payload.Progress, Message: payload.Message}, nil
}

type (
	tickMsg   struct{}
	updateMsg taskprogress.Update
	errMsg    struct{ err error }
)

// Model is the Bubble Tea model of the watcher. It quits once the task
// reaches 100%.
type Model struct {
	ctx      context.Context
	taskID   string
	fetcher  Fetcher
	interval time.Duration

	bar  progress.Model
	last taskprogress.Update
	err  error
	done bool
}

// NewModel creates a watcher for taskID.
func NewModel(ctx context.Context, fetcher Fetcher, taskID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{
		ctx:      ctx,
		taskID:   taskID,
		fetcher:  fetcher,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient()),
		last:     taskprogress.Update{Message: taskprogress.StartingMessage},
	}
}

// Init starts polling immediately.
func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		u, err := m.fetcher.Fetch(m.ctx, m.taskID)
		if err != nil {
			return errMsg{err}
		}
		return updateMsg(u)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 80))
	case tickMsg:
		return m, m.fetch()
	case updateMsg:
		m.last = taskprogress.Update(msg)
		m.err = nil
		if m.last.Percentage >= 100 {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()
	case errMsg:
		m.err = msg.err
		return m, m.tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Submitting expenses") + " " + hintStyle.Render(m.taskID) + "\n\n")
	sb.WriteString(m.bar.ViewAs(float64(m.last.Percentage)/100) + "\n")
	sb.WriteString(messageStyle.Render(m.last.Message) + "\n")
	if m.err != nil {
		sb.WriteString(errorStyle.Render("⚠ "+m.err.Error()) + "\n")
	}
	if !m.done {
		sb.WriteString("\n" + hintStyle.Render("q to stop watching") + "\n")
	}
	return sb.String()
}

// Last returns the most recent progress observed.
func (m Model) Last() taskprogress.Update { return m.last }

// Done reports whether the task finished.
func (m Model) Done() bool { return m.done }

// Watch runs the watcher on out until the task finishes, the user quits or
// ctx is cancelled, and returns the last progress seen.
func Watch(ctx context.Context, fetcher Fetcher, taskID string, out io.Writer) (taskprogress.Update, error) {
	m := NewModel(ctx, fetcher, taskID, DefaultInterval)
	final, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(out)).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	if err != nil && ctx.Err() == nil {
		return m.Last(), fmt.Errorf("progress watcher: %w", err)
	}
	return m.Last(), nil
}
