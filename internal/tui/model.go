package tui

import (
	"fmt"
	"strings"

	"chatwin/internal/app"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type keyMap struct {
	Send       key.Binding
	Cancel     key.Binding
	NextChat   key.Binding
	NewChat    key.Binding
	DeleteChat key.Binding
	Up         key.Binding
	Down       key.Binding
	ToggleSave key.Binding
	DeleteEx   key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel request")),
		NextChat:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next chat")),
		NewChat:    key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
		DeleteChat: key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "delete chat")),
		Up:         key.NewBinding(key.WithKeys("up"), key.WithHelp("up", "select older")),
		Down:       key.NewBinding(key.WithKeys("down"), key.WithHelp("down", "select newer")),
		ToggleSave: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save/unsave")),
		DeleteEx:   key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete exchange")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	contextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	requestingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	excludedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	savedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the chat surface. It holds no conversation state of its own:
// every render re-derives the tagged exchange list from the coordinator,
// and every key press maps onto one coordinator or store operation.
type Model struct {
	app       *app.Application
	chats     []app.Chat
	active    int
	exchanges []app.TaggedExchange
	selected  int
	input     textarea.Model
	spin      spinner.Model
	waiting   bool
	notice    string
	width     int
	height    int
	keys      keyMap
}

type coordinatorEventMsg struct {
	event app.Event
}

func New(application *app.Application) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.Prompt = "▍ "
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	m := &Model{
		app:      application,
		input:    ta,
		spin:     sp,
		selected: -1,
		width:    80,
		height:   24,
		keys:     defaultKeyMap(),
	}
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitEvents())
}

func (m *Model) waitEvents() tea.Cmd {
	events := m.app.Coordinator.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return coordinatorEventMsg{event: ev}
	}
}

func (m *Model) activeChat() (app.Chat, bool) {
	if m.active < 0 || m.active >= len(m.chats) {
		return app.Chat{}, false
	}
	return m.chats[m.active], true
}

// refresh re-derives the chat list and context tags from current state.
func (m *Model) refresh() {
	activeID := int64(0)
	if c, ok := m.activeChat(); ok {
		activeID = c.ID
	}
	m.chats = m.app.Store.ListChats()
	m.active = 0
	for i, c := range m.chats {
		if c.ID == activeID {
			m.active = i
			break
		}
	}
	if c, ok := m.activeChat(); ok {
		m.exchanges = m.app.Coordinator.GetTaggedExchanges(c.ID)
	} else {
		m.exchanges = nil
	}
	if m.selected >= len(m.exchanges) {
		m.selected = len(m.exchanges) - 1
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		return m, nil

	case coordinatorEventMsg:
		m.refresh()
		if c, ok := m.activeChat(); ok && msg.event.ChatID == c.ID {
			m.waiting = false
			if msg.event.Kind == app.EventFailed {
				m.notice = msg.event.Notice
			}
		}
		return m, m.waitEvents()

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if c, ok := m.activeChat(); ok {
			// Unmounting must not leave a stale response path alive.
			m.app.Coordinator.Cancel(c.ID)
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if len(m.chats) == 0 {
			m.app.Store.CreateChat("", "", m.app.Config.DefaultContextThreshold)
			m.refresh()
		}
		chat, _ := m.activeChat()
		if _, err := m.app.Coordinator.Submit(chat.ID, text); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		m.waiting = true
		m.selected = -1
		m.refresh()
		return m, m.spin.Tick

	case key.Matches(msg, m.keys.Cancel):
		if c, ok := m.activeChat(); ok {
			m.app.Coordinator.Cancel(c.ID)
		}
		m.waiting = false
		m.notice = ""
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.NextChat):
		if c, ok := m.activeChat(); ok {
			m.app.Coordinator.Cancel(c.ID)
		}
		if len(m.chats) > 1 {
			m.active = (m.active + 1) % len(m.chats)
		}
		m.waiting = false
		m.notice = ""
		m.selected = -1
		if c, ok := m.activeChat(); ok {
			m.exchanges = m.app.Coordinator.GetTaggedExchanges(c.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		chat := m.app.Store.CreateChat("", "", m.app.Config.DefaultContextThreshold)
		m.refresh()
		for i, c := range m.chats {
			if c.ID == chat.ID {
				m.active = i
			}
		}
		m.exchanges = nil
		m.selected = -1
		m.waiting = false
		return m, nil

	case key.Matches(msg, m.keys.DeleteChat):
		if c, ok := m.activeChat(); ok {
			m.app.Coordinator.DeleteChat(c.ID)
			m.waiting = false
			m.selected = -1
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.exchanges) > 0 {
			if m.selected < 0 {
				m.selected = len(m.exchanges) - 1
			} else if m.selected > 0 {
				m.selected--
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.selected >= 0 {
			if m.selected < len(m.exchanges)-1 {
				m.selected++
			} else {
				m.selected = -1
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.ToggleSave):
		if m.selected >= 0 && m.selected < len(m.exchanges) {
			m.app.Coordinator.ToggleSave(m.exchanges[m.selected].ID)
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.DeleteEx):
		if m.selected >= 0 && m.selected < len(m.exchanges) {
			m.app.Coordinator.DeleteExchange(m.exchanges[m.selected].ID)
			m.selected = -1
			m.refresh()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	var b strings.Builder

	chat, hasChat := m.activeChat()
	title := "no chats yet, just start typing"
	if hasChat {
		title = chatTitle(chat)
		title += fmt.Sprintf("  (%d/%d)", m.active+1, len(m.chats))
	}
	b.WriteString(headerStyle.Render(title))
	if hasChat {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  threshold %.2f · %d exchanges · %d tokens",
			chat.ContextThreshold, chat.ConversationCount, chat.TokenCount)))
	}
	b.WriteString("\n\n")

	for i, ex := range m.exchanges {
		b.WriteString(renderExchange(ex, i == m.selected, m.spin.View()))
	}

	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · esc cancel · tab chat · ctrl+n new · ctrl+k del chat · ↑/↓ select · ctrl+s save · ctrl+d delete · ctrl+c quit"))
	return b.String()
}

func chatTitle(chat app.Chat) string {
	if strings.TrimSpace(chat.Title) == "" {
		return "untitled"
	}
	return chat.Title
}

// renderExchange formats one exchange with its context marker. The marker
// reflects the derived tag only; nothing here is persisted.
func renderExchange(ex app.TaggedExchange, selected bool, spin string) string {
	marker := excludedStyle.Render("[ - ]")
	switch ex.Tag {
	case app.TagContext:
		marker = contextStyle.Render("[ctx]")
	case app.TagRequesting:
		marker = requestingStyle.Render("[" + spin + "..]")
	}
	if ex.Saved() {
		marker += savedStyle.Render("*")
	}

	cursor := "  "
	if selected {
		cursor = "▌ "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s you: %s\n", cursor, marker, ex.UserMessage)
	switch {
	case ex.Tag == app.TagRequesting:
		fmt.Fprintf(&b, "%s      ... waiting\n", cursor)
	case ex.FinishReason == app.FinishError:
		fmt.Fprintf(&b, "%s      %s\n", cursor, excludedStyle.Render("(no reply)"))
	default:
		fmt.Fprintf(&b, "%s      %s\n", cursor, ex.AssistantMessage)
	}
	return b.String()
}
