// Package tui provides a Bubble Tea terminal user interface for sgx-downloader.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/quanthub/sgx-downloader/internal/config"
	"github.com/quanthub/sgx-downloader/internal/download"
	httpx "github.com/quanthub/sgx-downloader/internal/http"
	"github.com/quanthub/sgx-downloader/internal/model"
	"github.com/quanthub/sgx-downloader/internal/sgx"
	"github.com/quanthub/sgx-downloader/internal/store"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	dayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateResolving
	StateDownloading
	StateComplete
	StateError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.ProgressLevel
}

// eventBuffer collects progress events from download workers so the UI can
// drain them on its own tick instead of receiving them mid-render.
type eventBuffer struct {
	mu     sync.Mutex
	events []download.ProgressEvent
}

func (b *eventBuffer) append(e download.ProgressEvent) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *eventBuffer) drain() []download.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	settings  *config.Settings
	logs      []LogEntry
	days      []string
	err       error

	// Download context
	ctx    context.Context
	cancel context.CancelFunc

	// Built during resolve, used for download
	manager *download.Manager
	db      *store.Store
	jobs    []download.Job
	retry   bool
	events  *eventBuffer

	// Download progress
	totalFiles      int32
	downloadedFiles int32
	failedFiles     int32
	receivedBytes   int64

	// Options
	verbose bool

	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel() Model {
	ti := textinput.New()
	ti.Placeholder = "2023-08-21, 2023-08-01..2023-08-21, last 5, latest, retry"
	ti.Focus()
	ti.CharLimit = 80
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		settings:  config.DefaultSettings(),
		logs:      make([]LogEntry, 0),
		events:    &eventBuffer{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// ResolveDoneMsg is sent when the request has been resolved to jobs.
	ResolveDoneMsg struct {
		Days    []string
		Jobs    []download.Job
		Manager *download.Manager
		DB      *store.Store
		Retry   bool
		Err     error
	}

	// DownloadDoneMsg is sent when all downloads complete.
	DownloadDoneMsg struct {
		Received int64
		Files    int32
		Failed   int32
		TotalF   int32
		Err      error
	}

	// TickMsg is for periodic progress updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			m.closeDB()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				m.closeDB()
				return m, tea.Quit
			}
			if m.state == StateDownloading || m.state == StateResolving {
				m.cancel()
				m.state = StateError
				m.err = fmt.Errorf("cancelled by user")
			}

		case "enter":
			if m.state == StateInput && m.textInput.Value() != "" {
				m.state = StateResolving
				return m, tea.Batch(m.resolveRequest(), m.spinner.Tick)
			}

		case "v":
			if m.state == StateInput {
				m.verbose = !m.verbose
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				m.closeDB()
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				// Reset for a new request
				m.closeDB()
				m.state = StateInput
				m.logs = nil
				m.days = nil
				m.err = nil
				m.downloadedFiles = 0
				m.failedFiles = 0
				m.totalFiles = 0
				m.receivedBytes = 0
				m.manager = nil
				m.jobs = nil
				m.retry = false
				m.events = &eventBuffer{}
				m.ctx, m.cancel = context.WithCancel(context.Background())
				m.textInput.SetValue("")
				m.textInput.Focus()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case ResolveDoneMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
			m.db = msg.DB
		} else {
			m.days = msg.Days
			m.jobs = msg.Jobs
			m.manager = msg.Manager
			m.db = msg.DB
			m.retry = msg.Retry
			if len(m.jobs) == 0 && !m.retry {
				m.state = StateComplete
			} else {
				m.state = StateDownloading
				cmds = append(cmds, m.startDownload(), m.tickProgress())
			}
		}

	case DownloadDoneMsg:
		m.receivedBytes = msg.Received
		m.downloadedFiles = msg.Files
		m.failedFiles = msg.Failed
		m.totalFiles = msg.TotalF
		if msg.Err != nil && m.ctx.Err() == nil {
			m.state = StateError
			m.err = msg.Err
		} else if m.ctx.Err() != nil {
			m.state = StateError
			m.err = fmt.Errorf("cancelled by user")
		} else {
			m.state = StateComplete
		}

	case TickMsg:
		// Drain worker events into the log tail
		for _, event := range m.events.drain() {
			if event.Level == download.LevelVerbose && !m.verbose {
				continue
			}
			m.logs = append(m.logs, LogEntry{Message: event.Message, Level: event.Level})
		}
		if len(m.logs) > 10 {
			m.logs = m.logs[len(m.logs)-10:]
		}

		// Update progress from manager
		if m.manager != nil && m.state == StateDownloading {
			received, files, failed, totalFiles := m.manager.GetProgress()
			m.receivedBytes = received
			m.downloadedFiles = files
			m.failedFiles = failed
			m.totalFiles = totalFiles

			var percent float64
			if totalFiles > 0 {
				percent = float64(files+failed) / float64(totalFiles)
			}
			progressCmd := m.progress.SetPercent(percent)
			cmds = append(cmds, progressCmd, m.tickProgress())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) closeDB() {
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

// tickProgress returns a command to tick progress updates.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("📈 SGX Derivatives Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download SGX derivatives historical data"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateResolving:
		b.WriteString(m.viewResolving())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter a request:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[×]"
	}

	b.WriteString(infoStyle.Render("Requests:"))
	b.WriteString("\n")
	b.WriteString("  2023-08-21                  one trading day\n")
	b.WriteString("  2023-08-01..2023-08-21      a date range\n")
	b.WriteString("  last 5                      the last N trading days\n")
	b.WriteString("  latest                      the newest published day\n")
	b.WriteString("  retry                       re-attempt failed downloads\n")
	b.WriteString("\n")
	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Verbose output (v)\n", verboseCheck))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Output path: %s", m.settings.OutputDir)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewResolving() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render("Resolving trading days..."))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	if len(m.days) > 0 {
		b.WriteString(successStyle.Render(fmt.Sprintf("Resolved %d trading day(s):", len(m.days))))
		b.WriteString("\n")
		for _, day := range m.days {
			b.WriteString(dayStyle.Render(fmt.Sprintf("  • %s", day)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	var percent float64
	if m.totalFiles > 0 {
		percent = float64(m.downloadedFiles+m.failedFiles) / float64(m.totalFiles)
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Files: %d/%d | Failed: %d | Downloaded: %.2f MB",
		m.downloadedFiles,
		m.totalFiles,
		m.failedFiles,
		float64(m.receivedBytes)/1024/1024,
	)))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	if m.totalFiles == 0 && !m.retry {
		b.WriteString(boxStyle.Render("Nothing to download.\n\nThe requested dates have no data\n(weekend, holiday, or not published yet)."))
		return b.String()
	}

	summary := fmt.Sprintf(
		"✨ Download Complete!\n\n"+
			"Days: %d\n"+
			"Files: %d/%d\n"+
			"Size: %.2f MB",
		len(m.days),
		m.downloadedFiles,
		m.totalFiles,
		float64(m.receivedBytes)/1024/1024,
	)
	if m.failedFiles > 0 {
		summary += fmt.Sprintf("\n\n%d file(s) failed.\nEnter \"retry\" to re-attempt them.", m.failedFiles)
	}
	b.WriteString(boxStyle.Render(summary))

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("❌ Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "✗"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "✓"
		case download.LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • v: verbose • esc: quit"
	case StateResolving, StateDownloading:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: new request • q: quit"
	}
	return ""
}

// resolveRequest parses the input, refreshes the id/date mapping, and turns
// the request into download jobs.
func (m *Model) resolveRequest() tea.Cmd {
	return func() tea.Msg {
		request := strings.TrimSpace(m.textInput.Value())
		settings := m.settings

		db, err := store.Open(settings.DatabasePath)
		if err != nil {
			return ResolveDoneMsg{Err: fmt.Errorf("open mapping database: %w", err)}
		}
		mappings := db.Mappings()

		// The alt screen owns the terminal, so nothing may log to stderr.
		logger := zerolog.Nop()

		client := httpx.NewClient(time.Duration(settings.RequestTimeoutSeconds)*time.Second, settings.RequestsPerSecond)
		urls := sgx.NewURLs(settings.URLPattern)
		probe := sgx.NewProbe(client, urls, settings.ProbeFileName)
		provider := &sgx.ScanProvider{
			Mappings:   mappings,
			Probe:      probe,
			MaxAhead:   settings.MaxScanAhead,
			MissWindow: settings.ScanMissWindow,
			Logger:     logger,
		}
		updater := sgx.NewUpdater(mappings, provider, probe, settings.ProbeMaxRetries, logger)
		resolver := sgx.NewResolver(mappings, updater, logger)

		manager := download.NewManager(settings, client, db.Ledger(), logger, m.events.append)

		if strings.EqualFold(request, "retry") {
			return ResolveDoneMsg{Manager: manager, DB: db, Retry: true}
		}

		records, err := resolveRecords(m.ctx, resolver, request)
		if err != nil {
			return ResolveDoneMsg{DB: db, Err: err}
		}

		days := make([]string, 0, len(records))
		jobs := make([]download.Job, 0, len(records))
		for _, rec := range records {
			days = append(days, rec.DateString())
			jobs = append(jobs, download.Job{ID: rec.ID, Date: rec.Date, Files: settings.DownloadFiles})
		}

		return ResolveDoneMsg{Days: days, Jobs: jobs, Manager: manager, DB: db}
	}
}

// resolveRecords maps the request forms onto the resolver operations.
func resolveRecords(ctx context.Context, resolver *sgx.Resolver, request string) ([]model.Record, error) {
	switch {
	case strings.EqualFold(request, "latest"):
		rec, err := resolver.ResolveLatest(ctx)
		if err != nil {
			return nil, err
		}
		return []model.Record{rec}, nil

	case strings.HasPrefix(strings.ToLower(request), "last "):
		n, err := strconv.Atoi(strings.TrimSpace(request[len("last "):]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a count", sgx.ErrInvalidRange, request)
		}
		return resolver.ResolveLastN(ctx, n)

	case strings.Contains(request, ".."):
		start, end, ok := strings.Cut(request, "..")
		if !ok {
			return nil, fmt.Errorf("%w: %q", sgx.ErrInvalidRange, request)
		}
		return resolver.ResolveRange(ctx, strings.TrimSpace(start), strings.TrimSpace(end))

	default:
		return resolver.ResolveDate(ctx, request)
	}
}

// startDownload starts the actual download in background.
func (m *Model) startDownload() tea.Cmd {
	return func() tea.Msg {
		if m.manager == nil {
			return DownloadDoneMsg{Err: fmt.Errorf("no manager")}
		}

		var err error
		if m.retry {
			err = m.manager.Retry(m.ctx)
		} else {
			err = m.manager.Run(m.ctx, m.jobs)
		}
		received, files, failed, totalFiles := m.manager.GetProgress()

		return DownloadDoneMsg{
			Received: received,
			Files:    files,
			Failed:   failed,
			TotalF:   totalFiles,
			Err:      err,
		}
	}
}

// Run starts the TUI application.
func Run() error {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
