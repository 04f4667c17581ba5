// Package tui provides a terminal user interface.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

const refreshInterval = 2 * time.Second

// App is the main TUI application.
type App struct {
	db     *storage.DB
	config *util.Config
}

// NewApp creates a new TUI application.
func NewApp(db *storage.DB, cfg *util.Config) *App {
	return &App{
		db:     db,
		config: cfg,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(newAppModel(a.db, a.config), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// appModel is the main bubbletea model.
type appModel struct {
	db        *storage.DB
	config    *util.Config
	dashboard *Dashboard
	spinner   spinner.Model
	ready     bool
	width     int
	height    int
	err       error
}

func newAppModel(db *storage.DB, cfg *util.Config) appModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return appModel{
		db:      db,
		config:  cfg,
		spinner: s,
	}
}

// Init initializes the model.
func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadData(m.db, m.config),
		tick(),
	)
}

// Update handles messages.
func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, loadData(m.db, m.config)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.dashboard != nil {
			m.dashboard.SetSize(msg.Width, msg.Height)
		}

	case tickMsg:
		return m, tea.Batch(loadData(m.db, m.config), tick())

	case dataMsg:
		m.ready = true
		m.err = nil
		m.dashboard = NewDashboard(msg, m.width, m.height)

	case errMsg:
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI.
func (m appModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: " + m.err.Error())
	}

	if !m.ready {
		return LoadingStyle.Render(m.spinner.View() + " Loading...")
	}

	return m.dashboard.View()
}

// Messages
type dataMsg struct {
	Data *DashboardData
}

type errMsg struct {
	err error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadData(db *storage.DB, cfg *util.Config) tea.Cmd {
	return func() tea.Msg {
		data, err := fetchDashboardData(db, cfg)
		if err != nil {
			return errMsg{err}
		}
		return dataMsg{Data: data}
	}
}

// fetchDashboardData combines the daemon's status file with the event log.
// A stopped daemon still leaves history worth showing.
func fetchDashboardData(db *storage.DB, cfg *util.Config) (*DashboardData, error) {
	data := &DashboardData{NodeID: cfg.NodeID, LinkState: "-"}

	data.Running, _ = daemon.CheckRunning(cfg.DataDir)
	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		data.HasInternet = sf.HasInternet
		data.LinkState = sf.LinkState
		data.Uptime = sf.Uptime
		data.Stats = sf.Stats
		data.Neighbors = sf.Neighbors
	}

	events := storage.NewEventStorage(db)
	recent, err := events.Recent(10)
	if err != nil {
		return nil, err
	}
	data.Events = recent

	if counts, err := events.CountByStatus(time.Now().Add(-24 * time.Hour)); err == nil {
		data.Counts = counts
	}
	if n, err := storage.NewOutboxStorage(db).PendingCount(); err == nil {
		data.OutboxPending = n
	}

	return data, nil
}
