// Package tui is the bubbletea front end over a core.Session.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/slmtnm/s4/internal/core"
)

// ViewMode represents the current view mode
type ViewMode int

const (
	ViewBrowser ViewMode = iota
	ViewConfirm
	ViewHelp
	ViewLog
)

const maxLogLines = 200

// Model represents the application state
type Model struct {
	ctx     context.Context
	session *core.Session
	log     *zap.Logger

	items    []core.ViewItem
	listed   bool
	cursor   int
	viewMode ViewMode

	plan     *core.DeletionPlan
	deleting bool
	deleted  int

	logLines      []string
	err           error
	statusMessage string
	width         int
	height        int

	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
}

// Messages for async operations
type eventMsg struct {
	event core.Event
}

type eventsClosedMsg struct{}

type refreshedMsg struct {
	path string
	err  error
}

type planReadyMsg struct {
	plan core.DeletionPlan
	err  error
}

type deletedMsg struct {
	plan core.DeletionPlan
	err  error
}

type statusMsg struct {
	message string
	isError bool
}

// NewModel creates a new TUI model. ctx bounds the listing and planning
// work started from the UI.
func NewModel(ctx context.Context, session *core.Session, log *zap.Logger) Model {
	if log == nil {
		log = zap.NewNop()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = helpStyle

	m := Model{
		ctx:      ctx,
		session:  session,
		log:      log,
		viewMode: ViewBrowser,
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
	}
	m.reload()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitEvent(), m.spinner.Tick)
}

// waitEvent blocks until the session publishes the next event.
func (m Model) waitEvent() tea.Cmd {
	events := m.session.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.progress.Width = min(60, max(10, msg.Width-20))
		return m, nil

	case tea.KeyMsg:
		if m.deleting {
			if key.Matches(msg, m.keys.ForceQuit) {
				return m, tea.Quit
			}
			return m, nil
		}
		switch m.viewMode {
		case ViewBrowser:
			return m.updateBrowser(msg)
		case ViewConfirm:
			return m.updateConfirm(msg)
		case ViewHelp, ViewLog:
			return m.updateModal(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(msg.event)
		return m, m.waitEvent()

	case eventsClosedMsg:
		return m, nil

	case refreshedMsg:
		if msg.err != nil {
			m.log.Debug("refresh failed", zap.String("path", msg.path), zap.Error(msg.err))
			m.err = msg.err
			m.statusMessage = ""
		} else {
			m.err = nil
			m.statusMessage = fmt.Sprintf("✓ Refreshed %s", displayPath(msg.path))
		}
		m.reload()
		return m, nil

	case planReadyMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, core.ErrEmptySelection) {
				m.err = msg.err
			}
			return m, nil
		}
		if msg.plan.State == core.DeletionFailed {
			m.session.AcknowledgeDelete()
			m.err = fmt.Errorf("nothing to delete: %d selected item(s) could not be listed", len(msg.plan.ExpandFailures))
			return m, nil
		}
		plan := msg.plan
		m.plan = &plan
		m.viewMode = ViewConfirm
		m.err = nil
		return m, nil

	case deletedMsg:
		m.deleting = false
		m.viewMode = ViewBrowser
		m.plan = nil
		m.deleted = 0
		if msg.err != nil {
			m.err = msg.err
			m.statusMessage = ""
		} else if n := len(msg.plan.Failures); n > 0 {
			m.err = fmt.Errorf("deleted %d objects, %d failed (see log)", msg.plan.Deleted, n)
			m.statusMessage = ""
		} else {
			m.err = nil
			m.statusMessage = fmt.Sprintf("✓ Deleted %d objects", msg.plan.Deleted)
		}
		m.session.AcknowledgeDelete()
		m.reload()
		return m, nil

	case statusMsg:
		if msg.isError {
			m.err = errors.New(msg.message)
			m.statusMessage = ""
		} else {
			m.err = nil
			m.statusMessage = msg.message
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) handleEvent(ev core.Event) {
	switch ev := ev.(type) {
	case core.LogMessage:
		m.appendLog(ev.Text)
	case core.OperationFailed:
		m.appendLog(fmt.Sprintf("error: %s: %v", displayPath(ev.Path), ev.Err))
		if ev.Path == m.session.Path() {
			m.err = ev.Err
		}
	case core.DeletionProgress:
		if m.deleting {
			m.deleted = ev.Done
		}
	}
	m.reload()
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if over := len(m.logLines) - maxLogLines; over > 0 {
		m.logLines = m.logLines[over:]
	}
}

// reload takes a fresh snapshot of the viewport and keeps the cursor inside it.
func (m *Model) reload() {
	m.items, m.listed = m.session.View()
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) current() (core.ViewItem, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return core.ViewItem{}, false
	}
	return m.items[m.cursor], true
}

// updateBrowser handles browser view updates
func (m Model) updateBrowser(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Open):
		if item, ok := m.current(); ok && item.Node.IsContainer() {
			return m.navigate(item.Node.Path)
		}

	case key.Matches(msg, m.keys.Back):
		if path := m.session.Path(); path != "" {
			child := path
			if err := m.session.Up(); err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.statusMessage = ""
			m.reload()
			m.cursor = 0
			for i, it := range m.items {
				if it.Node.Path == child {
					m.cursor = i
				}
			}
		}

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()

	case key.Matches(msg, m.keys.Select):
		if item, ok := m.current(); ok {
			if _, err := m.session.Toggle(item.Node.Path); err != nil {
				m.err = err
			}
			m.reload()
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		}

	case key.Matches(msg, m.keys.Clear):
		if err := m.session.ClearSelection(); err != nil {
			m.err = err
		}
		m.reload()

	case key.Matches(msg, m.keys.Calculate):
		if item, ok := m.current(); ok && item.Node.IsContainer() {
			if _, err := m.session.Calculate(item.Node.Path); err != nil {
				m.err = err
			}
			m.reload()
		}

	case key.Matches(msg, m.keys.CalcAll):
		walks, err := m.session.CalculateVisible()
		if err != nil {
			m.err = err
		} else {
			m.statusMessage = fmt.Sprintf("Calculating %d item(s)", len(walks))
		}
		m.reload()

	case key.Matches(msg, m.keys.Abort):
		if n := m.session.CancelCalculations(); n > 0 {
			m.statusMessage = fmt.Sprintf("Stopped %d calculation(s)", n)
		}
		m.reload()

	case key.Matches(msg, m.keys.Sort):
		k, dir := m.session.CycleSort()
		m.statusMessage = fmt.Sprintf("Sorted by %s %s", k, dirArrow(dir))
		m.reload()

	case key.Matches(msg, m.keys.Delete):
		return m, m.requestDelete()

	case key.Matches(msg, m.keys.Log):
		m.viewMode = ViewLog

	case key.Matches(msg, m.keys.Help):
		m.viewMode = ViewHelp
	}

	return m, nil
}

// updateConfirm accepts only an explicit answer.
func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Confirm):
		m.deleting = true
		m.deleted = 0
		return m, m.confirmDelete()
	case key.Matches(msg, m.keys.Reject):
		if err := m.session.CancelDelete(); err != nil {
			m.err = err
		} else {
			m.statusMessage = "Deletion canceled"
		}
		m.plan = nil
		m.viewMode = ViewBrowser
	}
	return m, nil
}

// updateModal handles the help and log views
func (m Model) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.CloseModal):
		m.viewMode = ViewBrowser
	}
	return m, nil
}

func (m Model) navigate(path string) (tea.Model, tea.Cmd) {
	if err := m.session.Navigate(path); err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil
	m.statusMessage = ""
	m.cursor = 0
	m.reload()
	return m, nil
}

// refresh relists the viewport
func (m Model) refresh() tea.Cmd {
	ctx, session := m.ctx, m.session
	path := session.Path()
	return func() tea.Msg {
		return refreshedMsg{path: path, err: session.Refresh(ctx)}
	}
}

// requestDelete expands the selection into a plan
func (m Model) requestDelete() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		plan, err := session.RequestDelete(ctx)
		return planReadyMsg{plan: plan, err: err}
	}
}

// confirmDelete executes the pending plan
func (m Model) confirmDelete() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		plan, err := session.ConfirmDelete(ctx)
		return deletedMsg{plan: plan, err: err}
	}
}
