// Package tui implements the Bubble Tea inbox browser.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kartik102005/ecolearn/internal/core/notify"
	"github.com/kartik102005/ecolearn/internal/core/styles"
	"github.com/kartik102005/ecolearn/internal/ecolearn"
)

// Inbox is the part of *ecolearn.Inbox the browser drives.
type Inbox interface {
	List() []notify.Notification
	SetReadState(ctx context.Context, ids []string, read bool) (bool, error)
	Dismiss(ctx context.Context, id string) (bool, error)
	MarkAllAsRead(ctx context.Context) (bool, error)
	Subscribe(fn func(ecolearn.InboxSnapshot)) (unsubscribe func())
}

var _ Inbox = (*ecolearn.Inbox)(nil)

// changedMsg reports that the inbox changed outside the model.
type changedMsg struct{}

type errMsg struct{ err error }

// Model lists the inbox newest first and applies read, unread and dismiss.
type Model struct {
	ctx     context.Context
	inbox   Inbox
	now     func() time.Time
	keys    keyMap
	help    help.Model
	changes chan struct{}
	unsub   func()

	items      []notify.Notification
	cursor     int
	scroll     int
	unreadOnly bool
	width      int
	height     int
	status     string
}

// New subscribes to inbox. Call Close when the program exits.
func New(ctx context.Context, inbox Inbox) *Model {
	m := &Model{
		ctx:     ctx,
		inbox:   inbox,
		now:     time.Now,
		keys:    defaultKeys(),
		help:    help.New(),
		changes: make(chan struct{}, 1),
		width:   80,
		height:  24,
	}
	m.unsub = inbox.Subscribe(func(ecolearn.InboxSnapshot) {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	m.reload()
	return m
}

// Close stops listening for inbox changes.
func (m *Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return changedMsg{}
		case <-m.ctx.Done():
			return tea.Quit()
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.ensureVisible()
		return m, nil

	case changedMsg:
		m.reload()
		return m, m.waitForChange()

	case errMsg:
		m.status = styles.ErrorStyle.Render(msg.err.Error())
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.ensureVisible()
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
			m.ensureVisible()
		}
	case key.Matches(msg, m.keys.Unread):
		m.unreadOnly = !m.unreadOnly
		m.reload()
	case key.Matches(msg, m.keys.Toggle):
		if n, ok := m.selected(); ok {
			return m.apply(func() (bool, error) {
				return m.inbox.SetReadState(m.ctx, []string{n.ID}, !n.Read)
			})
		}
	case key.Matches(msg, m.keys.Dismiss):
		if n, ok := m.selected(); ok {
			return m.apply(func() (bool, error) { return m.inbox.Dismiss(m.ctx, n.ID) })
		}
	case key.Matches(msg, m.keys.ReadAll):
		return m.apply(func() (bool, error) { return m.inbox.MarkAllAsRead(m.ctx) })
	}
	return nil
}

// apply runs a mutation synchronously so the next render reflects it.
func (m *Model) apply(fn func() (bool, error)) tea.Cmd {
	if _, err := fn(); err != nil {
		return func() tea.Msg { return errMsg{err: err} }
	}
	m.status = ""
	m.reload()
	return nil
}

func (m *Model) reload() {
	items := m.inbox.List()
	if m.unreadOnly {
		filtered := items[:0:0]
		for _, n := range items {
			if !n.Read {
				filtered = append(filtered, n)
			}
		}
		items = filtered
	}
	m.items = items
	if m.cursor >= len(m.items) {
		m.cursor = max(len(m.items)-1, 0)
	}
	m.ensureVisible()
}

func (m *Model) selected() (notify.Notification, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return notify.Notification{}, false
	}
	return m.items[m.cursor], true
}

// rows is the number of entries that fit: two lines each plus chrome.
func (m *Model) rows() int {
	return max((m.height-6)/2, 1)
}

func (m *Model) ensureVisible() {
	rows := m.rows()
	if m.cursor < m.scroll {
		m.scroll = m.cursor
	}
	if m.cursor >= m.scroll+rows {
		m.scroll = m.cursor - rows + 1
	}
	m.scroll = max(m.scroll, 0)
}

func (m *Model) View() string {
	unread := 0
	for _, n := range m.inbox.List() {
		if !n.Read {
			unread++
		}
	}

	header := styles.HeaderStyle.Render("EcoLearn inbox") + "  " +
		styles.MutedStyle.Render(fmt.Sprintf("%d unread", unread))
	if m.unreadOnly {
		header += styles.MutedStyle.Render("  (unread only)")
	}

	var body string
	if len(m.items) == 0 {
		body = styles.MutedStyle.Render("Nothing here yet. Finish a course to earn your first badge.")
	} else {
		end := min(m.scroll+m.rows(), len(m.items))
		lines := make([]string, 0, end-m.scroll)
		for i := m.scroll; i < end; i++ {
			lines = append(lines, m.renderItem(m.items[i], i == m.cursor))
		}
		body = strings.Join(lines, "\n")
	}

	parts := []string{header, "", body}
	if m.status != "" {
		parts = append(parts, "", m.status)
	}
	parts = append(parts, styles.HelpStyle.Render(m.help.View(m.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderItem(n notify.Notification, selected bool) string {
	marker := " "
	title := styles.ReadTitleStyle.Render(n.Title)
	if !n.Read {
		marker = styles.CategoryStyle(n.Category).Render("●")
		title = styles.UnreadTitleStyle.Render(n.Title)
	}

	badge := styles.CategoryStyle(n.Category).Render(fmt.Sprintf("%-6s", n.Category))
	when := styles.TimeStyle.Render(humanize.RelTime(n.CreatedAt, m.now(), "ago", "from now"))
	msg := styles.MutedStyle.Render(truncate(n.Message, max(m.width-8, 20)))

	row := fmt.Sprintf("%s %s %s  %s\n    %s", marker, badge, title, when, msg)
	if selected {
		return styles.SelectedStyle.Render(row)
	}
	return "  " + row
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// Run shows the browser until the user quits or ctx is done.
func Run(ctx context.Context, inbox Inbox) error {
	m := New(ctx, inbox)
	defer m.Close()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("run inbox browser: %w", err)
	}
	return nil
}
