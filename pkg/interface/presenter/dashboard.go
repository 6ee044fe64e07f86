package presenter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
)

// Dashboard is a TUI dashboard for crawl progress
type Dashboard struct {
	metrics       *entity.Metrics
	recentMatches []string
	progress      progress.Model
	width         int
	height        int
	startTime     time.Time
	mu            sync.RWMutex
}

type tickMsg time.Time

// NewDashboard creates a new TUI dashboard
func NewDashboard() *Dashboard {
	return &Dashboard{
		metrics:   &entity.Metrics{},
		progress:  progress.New(progress.WithDefaultGradient()),
		startTime: time.Now(),
	}
}

// Init initializes the dashboard
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

// Update handles dashboard updates
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.progress.Width = msg.Width - 4
		return d, nil

	case tickMsg:
		return d, tickCmd()
	}

	return d, nil
}

// View renders the dashboard
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "Initializing..."
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var sections []string

	header := d.renderHeader()
	sections = append(sections, header)

	bar := d.renderProgress()

	availableHeight := d.height - lipgloss.Height(header) - lipgloss.Height(bar) - 2
	if availableHeight < 0 {
		availableHeight = 0
	}

	halfWidth := d.width / 2
	row := lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.renderQueueStats(halfWidth, availableHeight),
		d.renderRecentMatches(d.width-halfWidth, availableHeight),
	)
	sections = append(sections, row)
	sections = append(sections, bar)
	sections = append(sections, d.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// OnMetricsUpdate implements application.MetricsObserver
func (d *Dashboard) OnMetricsUpdate(metrics *entity.Metrics) {
	d.mu.Lock()
	d.metrics = metrics
	d.mu.Unlock()
}

// AddMatch implements application.MetricsObserver
func (d *Dashboard) AddMatch(title string) {
	d.mu.Lock()
	d.recentMatches = append(d.recentMatches, title)
	if len(d.recentMatches) > 50 {
		d.recentMatches = d.recentMatches[len(d.recentMatches)-50:]
	}
	d.mu.Unlock()
}

func (d *Dashboard) renderHeader() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7D56F4")).
		Padding(0, 1)

	timeStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#999999"))

	elapsed := time.Since(d.startTime).Round(time.Second)

	title := titleStyle.Render("📰 News Crawler")
	info := timeStyle.Render(fmt.Sprintf(" State: %s | Running: %s", d.metrics.State, elapsed))

	return title + info
}

func (d *Dashboard) renderQueueStats(width, height int) string {
	statStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#874BFD")).
		Padding(1, 2).
		Width(width - 2).
		Height(height - 2)

	m := d.metrics
	stats := []string{
		"📊 Queue Statistics",
		"",
		fmt.Sprintf("Sources Scanned:  %d / %d", m.SourcesScanned, m.SourcesDue),
		fmt.Sprintf("Pending:          %d", m.PendingEntries),
		fmt.Sprintf("Active Workers:   %d / %d", m.ActiveWorkers, m.TotalWorkers),
		fmt.Sprintf("Claimed:          %d", m.ClaimedEntries),
		fmt.Sprintf("Done:             %d", m.DoneEntries),
		fmt.Sprintf("Failed:           %d", m.FailedEntries),
		fmt.Sprintf("Retried:          %d", m.RetriedEntries),
		fmt.Sprintf("Links Discovered: %d", m.LinksDiscovered),
	}

	if finished := m.DoneEntries + m.FailedEntries; finished > 0 {
		stats = append(stats,
			"",
			fmt.Sprintf("Success Rate:     %.1f%%", m.SuccessRate()*100),
			fmt.Sprintf("Throughput:       %.1f pages/s", m.Throughput()),
		)
	}

	return statStyle.Render(strings.Join(stats, "\n"))
}

func (d *Dashboard) renderRecentMatches(width, height int) string {
	matchStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#04B575")).
		Padding(1, 2).
		Width(width - 2).
		Height(height - 2)

	lines := []string{
		fmt.Sprintf("🔎 Matched Articles (Total: %d)", d.metrics.MatchedPages),
		"",
	}

	if len(d.recentMatches) == 0 {
		lines = append(lines, "No matches yet...")
	} else {
		maxLines := height - 6
		if maxLines < 0 {
			maxLines = 0
		}
		start := 0
		if len(d.recentMatches) > maxLines {
			start = len(d.recentMatches) - maxLines
		}
		for _, title := range d.recentMatches[start:] {
			if len(title) > width-8 && width > 9 {
				title = title[:width-9] + "…"
			}
			lines = append(lines, fmt.Sprintf("  • %s", title))
		}
	}

	return matchStyle.Render(strings.Join(lines, "\n"))
}

func (d *Dashboard) renderProgress() string {
	m := d.metrics
	finished := m.DoneEntries + m.FailedEntries
	total := finished + m.PendingEntries + m.ActiveWorkers
	percent := 0.0
	if total > 0 {
		percent = float64(finished) / float64(total)
	}
	return lipgloss.NewStyle().Padding(0, 2).Render(d.progress.ViewAs(percent))
}

func (d *Dashboard) renderFooter() string {
	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		Padding(1, 0)

	return footerStyle.Render("Press 'q' or 'Ctrl+C' to quit")
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*500, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
