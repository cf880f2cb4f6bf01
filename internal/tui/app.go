package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wardenhq/warden/internal/models"
)

const refreshEvery = 5 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	stateApplied  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	stateFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	statePending  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	stateApproved = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // Blue
	stateNew      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
)

// AgentItem implements list.Item for the agents pane.
type AgentItem struct {
	Name   string
	Folder string
	Model  string
	Tasks  int
}

func (i AgentItem) FilterValue() string { return i.Name }
func (i AgentItem) Title() string       { return i.Name }
func (i AgentItem) Description() string {
	model := i.Model
	if model == "" {
		model = "default"
	}
	return fmt.Sprintf("%s • %d scheduled task(s)", model, i.Tasks)
}

// SpecItem implements list.Item for the specs pane.
type SpecItem struct {
	Name  string
	State models.SpecState
}

func (i SpecItem) FilterValue() string { return i.Name }
func (i SpecItem) Title() string       { return i.Name }
func (i SpecItem) Description() string { return formatState(i.State) }

func formatState(state models.SpecState) string {
	switch state {
	case models.StateApplied:
		return stateApplied.Render("● applied")
	case models.StateFailed:
		return stateFailed.Render("● failed")
	case models.StatePendingApproval:
		return statePending.Render("● pending approval")
	case models.StateApproved:
		return stateApproved.Render("● approved")
	case models.StateNew:
		return stateNew.Render("● new")
	default:
		return string(state)
	}
}

type pane int

const (
	paneAgents pane = iota
	paneSpecs
)

// App is the dashboard model: an agents pane and a specs pane fed by
// the status API on a refresh timer. Read-only; all mutations go
// through spec files in the watched directory.
type App struct {
	client *Client

	active pane
	agents list.Model
	specs  list.Model

	width  int
	height int
	err    error
}

// New creates the dashboard against a daemon API address.
func New(apiAddr string) *App {
	delegate := list.NewDefaultDelegate()

	agents := list.New([]list.Item{}, delegate, 80, 20)
	agents.Title = "Agents"
	agents.SetShowStatusBar(true)
	agents.SetFilteringEnabled(true)
	agents.Styles.Title = titleStyle

	specs := list.New([]list.Item{}, delegate, 80, 20)
	specs.Title = "Specs"
	specs.SetShowStatusBar(true)
	specs.SetFilteringEnabled(true)
	specs.Styles.Title = titleStyle

	return &App{
		client: NewClient(apiAddr),
		agents: agents,
		specs:  specs,
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	_, err := tea.NewProgram(a, tea.WithAltScreen()).Run()
	return err
}

type refreshedMsg struct {
	agents []AgentItem
	specs  []SpecItem
}

type errMsg struct{ err error }

type tickMsg struct{}

// Init triggers the first refresh and starts the timer.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(time.Time) tea.Msg { return tickMsg{} })
}

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		defs, err := a.client.ListAgents()
		if err != nil {
			return errMsg{err}
		}
		statuses, err := a.client.ListSpecs()
		if err != nil {
			return errMsg{err}
		}

		agents := make([]AgentItem, 0, len(defs))
		for _, def := range defs {
			item := AgentItem{Name: def.Name, Folder: def.Folder, Model: def.Model}
			if tasks, err := a.client.AgentTasks(def.Name); err == nil {
				item.Tasks = len(tasks)
			}
			agents = append(agents, item)
		}

		specs := make([]SpecItem, 0, len(statuses))
		for _, status := range statuses {
			specs = append(specs, SpecItem{Name: status.Name, State: status.State})
		}

		return refreshedMsg{agents: agents, specs: specs}
	}
}

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.agents.SetSize(msg.Width, msg.Height-2)
		a.specs.SetSize(msg.Width, msg.Height-2)
		return a, nil

	case refreshedMsg:
		a.err = nil
		agentItems := make([]list.Item, len(msg.agents))
		for i, item := range msg.agents {
			agentItems[i] = item
		}
		a.agents.SetItems(agentItems)

		specItems := make([]list.Item, len(msg.specs))
		for i, item := range msg.specs {
			specItems[i] = item
		}
		a.specs.SetItems(specItems)
		return a, nil

	case errMsg:
		a.err = msg.err
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.refresh(), tick())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "tab":
			if a.active == paneAgents {
				a.active = paneSpecs
			} else {
				a.active = paneAgents
			}
			return a, nil
		case "r":
			return a, a.refresh()
		}
	}

	var cmd tea.Cmd
	if a.active == paneAgents {
		a.agents, cmd = a.agents.Update(msg)
	} else {
		a.specs, cmd = a.specs.Update(msg)
	}
	return a, cmd
}

// View renders the active pane.
func (a *App) View() string {
	if a.err != nil {
		return fmt.Sprintf("Cannot reach the daemon: %v\n\nPress q to quit, r to retry.", a.err)
	}

	var body string
	if a.active == paneAgents {
		body = a.agents.View()
	} else {
		body = a.specs.View()
	}
	return body + "\n" + helpStyle.Render("tab: switch pane • r: refresh • q: quit")
}
