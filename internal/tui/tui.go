package tui

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog"

	"chathist/internal/chat"
)

type Input struct {
	Store       *chat.SessionStore
	DefaultRole chat.Role
	Logger      zerolog.Logger
}

func Run(in Input) error {
	changes := make(chan struct{}, 1)
	unsubscribe := in.Store.Subscribe(func(chat.Snapshot) {
		// Coalesce: the model always re-reads the latest snapshot.
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	m := newModel(in)
	m.changes = changes
	// Enable mouse reporting so the terminal doesn't scroll the alternate screen.
	// We ignore all mouse events in Update.
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

type focus int

const (
	focusSessions focus = iota
	focusComposer
)

type layoutMode int

const (
	layoutModeNarrow layoutMode = iota
	layoutModeWide
)

// storeChangedMsg is delivered whenever the session store notifies.
type storeChangedMsg struct{}

// opDoneMsg reports the outcome of a store operation run as a command.
type opDoneMsg struct {
	op  string
	err error
}

type model struct {
	store   *chat.SessionStore
	log     zerolog.Logger
	changes <-chan struct{}

	snap chat.Snapshot
	role chat.Role

	focus focus

	width  int
	height int

	panelHeight int
	colWSes     int
	colWChat    int

	sesList    list.Model
	transcript viewport.Model
	composer   textinput.Model

	status string

	styles styles
}

const (
	colGapSpaces       = 1
	outerMarginLeft    = 1
	outerMarginRight   = 2
	defaultSafetySlack = 0
	ghosttySafetySlack = 7
	minColWSessions    = 28
	maxColWSessions    = 42
	minColWChat        = 40
)

type styles struct {
	titleActive lipgloss.Style
	titleIdle   lipgloss.Style
	panel       lipgloss.Style
	panelActive lipgloss.Style
	muted       lipgloss.Style
	errText     lipgloss.Style
	roleUser    lipgloss.Style
	roleBot     lipgloss.Style
}

func newModel(in Input) model {
	st := styles{
		titleActive: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		titleIdle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		panel:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1),
		panelActive: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205")).Padding(0, 1),
		muted:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errText:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		roleUser:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		roleBot:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
	}

	sesList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	sesList.SetShowStatusBar(false)
	sesList.SetFilteringEnabled(false)
	sesList.SetShowHelp(false)
	sesList.SetShowTitle(false)
	sesList.DisableQuitKeybindings()

	composer := textinput.New()
	composer.Placeholder = "type a message"
	composer.Prompt = ""
	composer.CharLimit = 0 // unlimited

	role := in.DefaultRole
	if role == "" {
		role = chat.RoleUser
	}

	m := model{
		store:      in.Store,
		log:        in.Logger,
		role:       role,
		focus:      focusSessions,
		sesList:    sesList,
		transcript: viewport.New(0, 0),
		composer:   composer,
		styles:     st,
	}
	m.applySnapshot(in.Store.Snapshot())
	if m.snap.ActiveID == "" && len(m.snap.Sessions) > 0 {
		// Open on the most recent conversation.
		m.store.SelectChat(m.snap.Sessions[0].ID)
		m.applySnapshot(m.store.Snapshot())
	}
	if len(m.snap.Sessions) == 0 {
		m.setFocus(focusComposer)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.renderTranscript()
		return m, nil
	case tea.MouseMsg:
		// Mouse events are intentionally ignored (keyboard-first only).
		return m, nil
	case storeChangedMsg:
		m.applySnapshot(m.store.Snapshot())
		return m, m.waitForChange()
	case opDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.op, msg.err)
			m.log.Warn().Err(msg.err).Str("op", msg.op).Msg("Store operation failed")
		} else {
			m.status = ""
		}
		m.applySnapshot(m.store.Snapshot())
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab", "shift+tab":
			if m.focus == focusSessions {
				m.setFocus(focusComposer)
			} else {
				m.setFocus(focusSessions)
			}
			return m, nil
		case "ctrl+n":
			m.setFocus(focusComposer)
			return m, m.createChatCmd()
		case "ctrl+r":
			m.role = nextRole(m.role)
			return m, nil
		}
	}

	switch m.focus {
	case focusSessions:
		km, ok := msg.(tea.KeyMsg)
		if !ok {
			return m, nil
		}
		switch km.String() {
		case "enter":
			m.setFocus(focusComposer)
			return m, nil
		case "delete", "ctrl+d":
			// Consumed here so the list never sees the key as navigation.
			if id := m.highlightedSessionID(); id != "" {
				return m, m.deleteChatCmd(id)
			}
			return m, nil
		}
		var cmd tea.Cmd
		before := m.highlightedSessionID()
		m.sesList, cmd = m.sesList.Update(msg)
		if after := m.highlightedSessionID(); after != "" && after != before {
			m.store.SelectChat(after)
			m.applySnapshot(m.store.Snapshot())
		}
		return m, cmd
	case focusComposer:
		if km, ok := msg.(tea.KeyMsg); ok {
			switch km.String() {
			case "enter":
				content := m.composer.Value()
				if strings.TrimSpace(content) == "" {
					return m, nil
				}
				m.composer.SetValue("")
				return m, m.addMessageCmd(content, m.role)
			case "up", "down", "pgup", "pgdown":
				var cmd tea.Cmd
				m.transcript, cmd = m.transcript.Update(msg)
				return m, cmd
			}
		}
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

func (m model) createChatCmd() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		_, err := store.CreateNewChat(context.Background())
		return opDoneMsg{op: "new chat", err: err}
	}
}

// addMessageCmd appends to the active chat, opening one first when nothing
// is active (the store itself never creates a session on AddMessage).
func (m model) addMessageCmd(content string, role chat.Role) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx := context.Background()
		if _, ok := store.Active(); !ok {
			if _, err := store.CreateNewChat(ctx); err != nil {
				return opDoneMsg{op: "new chat", err: err}
			}
		}
		return opDoneMsg{op: "send", err: store.AddMessage(ctx, content, role)}
	}
}

func (m model) deleteChatCmd(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		return opDoneMsg{op: "delete", err: store.DeleteChat(context.Background(), id)}
	}
}

func nextRole(r chat.Role) chat.Role {
	for i, candidate := range chat.Roles {
		if candidate == r {
			return chat.Roles[(i+1)%len(chat.Roles)]
		}
	}
	return chat.RoleUser
}

func (m *model) setFocus(f focus) {
	m.focus = f
	if f == focusComposer {
		m.composer.Focus()
	} else {
		m.composer.Blur()
	}
}

func (m *model) applySnapshot(snap chat.Snapshot) {
	m.snap = snap

	items := make([]list.Item, 0, len(snap.Sessions))
	activeIdx := -1
	for i, s := range snap.Sessions {
		items = append(items, sessionItem{ChatSession: s, active: s.ID == snap.ActiveID})
		if s.ID == snap.ActiveID {
			activeIdx = i
		}
	}
	m.sesList.SetItems(items)
	if activeIdx >= 0 {
		m.sesList.Select(activeIdx)
	}
	m.renderTranscript()
}

func (m model) activeSession() (chat.ChatSession, bool) {
	for _, s := range m.snap.Sessions {
		if s.ID == m.snap.ActiveID {
			return s, true
		}
	}
	return chat.ChatSession{}, false
}

func (m model) highlightedSessionID() string {
	it := m.sesList.SelectedItem()
	if it == nil {
		return ""
	}
	si, ok := it.(sessionItem)
	if !ok {
		return ""
	}
	return si.ID
}

func (m *model) renderTranscript() {
	w := m.transcript.Width
	if w <= 0 {
		w = 60
	}
	m.transcript.SetContent(m.transcriptText(w))
	m.transcript.GotoBottom()
}

func (m model) transcriptText(width int) string {
	active, ok := m.activeSession()
	if !ok {
		return m.styles.muted.Render("No chat selected. ctrl+n starts one, or just type.")
	}
	if len(active.Messages) == 0 {
		return m.styles.muted.Render("Empty chat. The first message you send names it.")
	}

	body := lipgloss.NewStyle().Width(maxInt(10, width))
	var b strings.Builder
	for i, msg := range active.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := m.styles.roleBot.Render(string(msg.Role))
		if msg.Role == chat.RoleUser {
			label = m.styles.roleUser.Render(string(msg.Role))
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(body.Render(msg.Content))
	}
	return b.String()
}

func (m model) View() string {
	header := m.styles.muted.Render(
		"tab: switch  ctrl+n: new chat  enter: send  ctrl+r: role  del: delete  ctrl+c: quit",
	)

	sesTitle := m.title(fmt.Sprintf("Chats (%d)", len(m.snap.Sessions)), m.focus == focusSessions)
	sesBody := m.sesList.View()
	if len(m.snap.Sessions) == 0 {
		sesBody = m.styles.muted.Render("no chats yet")
	}
	sesPanel := m.panelW(m.focus == focusSessions, m.colWSes, m.panelHeight, sesTitle+"\n"+sesBody)

	chatTitle := "Chat"
	if active, ok := m.activeSession(); ok {
		chatTitle = active.Title
	}
	composerLine := m.styles.muted.Render("["+string(m.role)+"] ") + m.composer.View()
	chatBody := m.title(chatTitle, m.focus == focusComposer) + "\n" + m.transcript.View() + "\n" + composerLine
	if m.status != "" {
		chatBody += "\n" + m.styles.errText.Render(m.status)
	}
	chatPanel := m.panelW(m.focus == focusComposer, m.colWChat, m.panelHeight, chatBody)

	content := m.layout(sesPanel, chatPanel)
	return strings.TrimRight(m.inset(header+"\n\n"+content), "\n")
}

func (m model) inset(s string) string {
	innerW := m.width - outerMarginLeft - outerMarginRight
	if innerW <= 0 {
		return s
	}

	lines := strings.Split(s, "\n")
	for i := range lines {
		// Bubble Tea's renderer diffs lines; if a new frame produces a shorter
		// line than the previous frame, the leftover characters can remain on
		// screen unless we fully clear the row.
		trimmed := ansi.Truncate(lines[i], innerW, "")
		padInner := innerW - ansi.StringWidth(trimmed)
		if padInner < 0 {
			padInner = 0
		}
		lines[i] = strings.Repeat(" ", outerMarginLeft) + trimmed + strings.Repeat(" ", padInner) + strings.Repeat(" ", outerMarginRight)
	}
	return strings.Join(lines, "\n")
}

func (m model) safetySlack() int {
	if v := strings.TrimSpace(os.Getenv("CHATHIST_TUI_SAFETY_SLACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n < 0 {
				return 0
			}
			return n
		}
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM_PROGRAM")), "ghostty") {
		return ghosttySafetySlack
	}
	return defaultSafetySlack
}

// narrowBreakpointWidth is the smallest terminal width that fits both
// panels side by side.
func narrowBreakpointWidth(slack int) int {
	return minColWSessions + minColWChat + colGapSpaces + outerMarginLeft + outerMarginRight + slack
}

func chooseLayoutMode(width, slack int) layoutMode {
	if width < narrowBreakpointWidth(slack) {
		return layoutModeNarrow
	}
	return layoutModeWide
}

func (m *model) resize() {
	// Reserve a bit of space for the header.
	height := m.height - 4
	if height < 8 {
		height = 8
	}
	m.panelHeight = height
	slack := m.safetySlack()

	// Chrome inside the chat panel: title, composer, status line.
	const chatChrome = 3

	if chooseLayoutMode(m.width, slack) == layoutModeNarrow {
		m.colWSes, m.colWChat = 0, 0
		innerW := maxInt(20, m.width-4)
		half := maxInt(3, height/2-2)
		m.sesList.SetSize(innerW, half)
		m.transcript.Width = innerW
		m.transcript.Height = maxInt(3, half-chatChrome)
		m.composer.Width = maxInt(10, innerW-12)
		return
	}

	available := m.width - colGapSpaces - outerMarginLeft - outerMarginRight - slack
	sesW := clampInt(available/3, minColWSessions, maxColWSessions)
	chatW := available - sesW
	if chatW < minColWChat {
		chatW = minColWChat
		sesW = maxInt(minColWSessions, available-chatW)
	}
	m.colWSes, m.colWChat = sesW, chatW

	// Approximate panel chrome: border(2) + padding(2) = 4.
	innerSesW := maxInt(10, sesW-4)
	innerChatW := maxInt(10, chatW-4)

	m.sesList.SetSize(innerSesW, maxInt(3, height-2))
	m.transcript.Width = innerChatW
	m.transcript.Height = maxInt(3, height-2-chatChrome)
	m.composer.Width = maxInt(10, innerChatW-12)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m model) title(text string, active bool) string {
	if active {
		return m.styles.titleActive.Render(text)
	}
	return m.styles.titleIdle.Render(text)
}

func (m model) panelW(active bool, w, h int, content string) string {
	st := m.styles.panel
	if active {
		st = m.styles.panelActive
	}
	if w > 0 {
		st = st.Width(w)
	}
	if h > 0 {
		st = st.Height(h)
	}
	return st.Render(content)
}

func (m model) layout(a, b string) string {
	if chooseLayoutMode(m.width, m.safetySlack()) == layoutModeNarrow {
		return lipgloss.JoinVertical(lipgloss.Top, a, b)
	}
	gap := lipgloss.NewStyle().MarginRight(colGapSpaces)
	return lipgloss.JoinHorizontal(lipgloss.Top, gap.Render(a), b)
}

type sessionItem struct {
	chat.ChatSession
	active bool
}

func (s sessionItem) Title() string {
	if s.active {
		return "● " + s.ChatSession.Title
	}
	return s.ChatSession.Title
}

func (s sessionItem) Description() string {
	n := len(s.Messages)
	unit := "messages"
	if n == 1 {
		unit = "message"
	}
	if ts := formatUpdated(s.Timestamp); ts != "" {
		return fmt.Sprintf("%s · %d %s", ts, n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}

func (s sessionItem) FilterValue() string { return s.ChatSession.Title }

func formatUpdated(ms int64) string {
	if ms <= 0 {
		return ""
	}
	t := time.UnixMilli(ms).Local()
	return t.Format("2006-01-02 15:04")
}
