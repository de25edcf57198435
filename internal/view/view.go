// Package view is the interactive surface: a file picker, the selected-image
// info line and a single status line. It renders state produced by the
// session controller and supplies raw file-selection events; all coordination
// lives in internal/session.
package view

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/platescan/platescan/internal/channel"
	"github.com/platescan/platescan/internal/object"
	"github.com/platescan/platescan/internal/session"
)

// StatusMsg delivers a controller status projection.
type StatusMsg session.Status

// ConnStateMsg delivers a channel lifecycle change.
type ConnStateMsg struct {
	State channel.State
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("57")).Padding(0, 1)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	resultStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	badgeOn     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badgeOff    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Model is the root Bubble Tea model.
type Model struct {
	ctx    context.Context
	ctrl   *session.Controller
	events <-chan tea.Msg

	picker filepicker.Model
	keys   KeyMap
	width  int
	height int

	obj       *object.Object
	status    session.Status
	statusMsg string
	connState channel.State
	selectErr string
}

// New creates the root model. events carries StatusMsg and ConnStateMsg
// values produced by the composition root.
func New(ctx context.Context, ctrl *session.Controller, events <-chan tea.Msg, startDir string) Model {
	fp := filepicker.New()
	fp.CurrentDirectory = startDir
	fp.AllowedTypes = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff"}

	return Model{
		ctx:    ctx,
		ctrl:   ctrl,
		events: events,
		picker: fp,
		keys:   DefaultKeyMap(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.picker.Init(), m.listen())
}

// listen blocks on the next controller or channel event.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.events
		if !ok {
			return nil
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.picker.Height = max(msg.Height-9, 3)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}

	case StatusMsg:
		m.status = session.Status(msg)
		m.statusMsg = msg.Message
		return m, m.listen()

	case ConnStateMsg:
		m.connState = msg.State
		return m, m.listen()
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.selectErr = ""
		obj, err := object.Inspect(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("rejecting selection")
			m.selectErr = fmt.Sprintf("Cannot use %s: not a readable image", path)
			return m, cmd
		}
		m.obj = obj
		m.ctrl.OnFileSelected(m.ctx, obj)
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		m.selectErr = fmt.Sprintf("%s is not an image", path)
	}

	return m, cmd
}

func (m Model) View() string {
	title := titleStyle.Render("platescan")
	badge := badgeOff.Render("● " + m.connState.String())
	if m.connState == channel.Connected {
		badge = badgeOn.Render("● connected")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", badge)

	info := infoStyle.Render("Pick a vehicle image")
	if m.obj != nil {
		info = infoStyle.Render(fmt.Sprintf("%s  %s  %dx%d  %d bytes",
			m.obj.Name, m.obj.Format, m.obj.Width, m.obj.Height, m.obj.Size))
	}

	status := statusStyle.Render(m.statusMsg)
	switch {
	case m.selectErr != "":
		status = errorStyle.Render(m.selectErr)
	case m.status.Phase == session.Completed:
		status = resultStyle.Render(m.statusMsg)
	case m.status.Phase == session.Failed:
		status = errorStyle.Render(m.statusMsg)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s\n", header, m.picker.View(), info, status)
}
