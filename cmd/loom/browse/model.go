package browsecmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/history"
)

type pane int

const (
	paneThreads pane = iota
	paneHistory
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	roleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// threadItem adapts a history.Thread to the list component.
type threadItem struct {
	thread *history.Thread
}

func (i threadItem) Title() string {
	if i.thread.Topic != "" {
		return i.thread.Topic
	}
	return "(no topic)"
}

func (i threadItem) Description() string {
	return fmt.Sprintf("%s · %s", i.thread.ID, i.thread.UpdatedAt.Format("2006-01-02 15:04"))
}

func (i threadItem) FilterValue() string {
	return i.thread.Topic + " " + i.thread.ID
}

// historyLoadedMsg delivers a thread's messages to the UI.
type historyLoadedMsg struct {
	thread *history.Thread
	msgs   []chat.Message
	err    error
}

type model struct {
	mgr      *history.Manager
	list     list.Model
	viewport viewport.Model
	focus    pane
	current  *history.Thread
	err      error
	width    int
	height   int
	ready    bool
}

func newModel(mgr *history.Manager, threads []*history.Thread) model {
	items := make([]list.Item, len(threads))
	for i, t := range threads {
		items[i] = threadItem{thread: t}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "loom threads"
	l.SetShowStatusBar(false)

	return model{
		mgr:  mgr,
		list: l,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-2)
		m.viewport = viewport.New(msg.Width, msg.Height-3)
		m.ready = true
		if m.current != nil {
			m.viewport.SetContent(m.renderedContent())
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.focus == paneHistory && msg.String() == "q" {
				m.focus = paneThreads
				return m, nil
			}
			return m, tea.Quit

		case "esc":
			if m.focus == paneHistory {
				m.focus = paneThreads
				return m, nil
			}

		case "enter":
			if m.focus == paneThreads {
				if item, ok := m.list.SelectedItem().(threadItem); ok {
					return m, m.loadHistory(item.thread)
				}
			}
		}

	case historyLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.current = msg.thread
		m.focus = paneHistory
		m.viewport.SetContent(renderMessages(msg.msgs, m.width))
		m.viewport.GotoTop()
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == paneHistory {
		m.viewport, cmd = m.viewport.Update(msg)
	} else {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n" + dimStyle.Render("press q to quit")
	}

	if m.focus == paneHistory && m.current != nil {
		header := titleStyle.Render(m.current.Topic)
		footer := dimStyle.Render("esc: back · q: threads · ctrl+c: quit")
		return header + "\n" + m.viewport.View() + "\n" + footer
	}

	return m.list.View() + "\n" + dimStyle.Render("enter: open · q: quit")
}

func (m model) loadHistory(t *history.Thread) tea.Cmd {
	return func() tea.Msg {
		msgs, err := m.mgr.History(context.Background(), t.ID)
		return historyLoadedMsg{thread: t, msgs: msgs, err: err}
	}
}

func (m model) renderedContent() string {
	msgs, err := m.mgr.History(context.Background(), m.current.ID)
	if err != nil {
		return errStyle.Render(err.Error())
	}
	return renderMessages(msgs, m.width)
}

func renderMessages(msgs []chat.Message, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render("(empty thread)")
	}

	body := lipgloss.NewStyle().Width(width)

	var sb strings.Builder
	for _, msg := range msgs {
		sb.WriteString(roleStyle.Render(msg.Role))
		sb.WriteString("\n")
		sb.WriteString(body.Render(msg.Text()))
		sb.WriteString("\n\n")
	}
	return sb.String()
}
