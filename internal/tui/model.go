// Package tui is a terminal client for a group conversation server.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/payloads"
	"github.com/koscakluka/ema-group/core/transport/ws"
	"github.com/muesli/reflow/wordwrap"
)

const maxLines = 500

type Options struct {
	URL     string
	GroupID string
	Name    string
}

// sender is the part of Client the model needs.
type sender interface {
	Send(ws.Message) error
}

type payloadMsg payloads.Payload

type disconnectedMsg struct{ err error }

type sendFailedMsg struct{ err error }

type model struct {
	client   sender
	incoming <-chan payloads.Payload
	closed   func() error

	groupID string
	name    string

	input    textinput.Model
	viewport viewport.Model
	styles   styles
	lines    []string
	width    int
	ready    bool

	// generations keeps the newest generation seen per group so output of
	// preempted turns arriving late is ignored.
	generations map[string]uint64
}

func newModel(client sender, incoming <-chan payloads.Payload, closed func() error, opts Options) model {
	input := textinput.New()
	input.Placeholder = "Say something, /interrupt, /proactive <text> or /forward <group> <text>"
	input.Focus()
	input.CharLimit = 2000

	return model{
		client:      client,
		incoming:    incoming,
		closed:      closed,
		groupID:     opts.GroupID,
		name:        opts.Name,
		input:       input,
		styles:      newStyles(),
		width:       80,
		generations: map[string]uint64{},
	}
}

// Run joins the group and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	client, err := Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(ws.Message{Type: ws.MessageJoinGroup, GroupID: opts.GroupID}); err != nil {
		return fmt.Errorf("failed to join %s: %w", opts.GroupID, err)
	}

	program := tea.NewProgram(newModel(client, client.Payloads(), client.Err, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		payload, ok := <-m.incoming
		if !ok {
			var err error
			if m.closed != nil {
				err = m.closed()
			}
			return disconnectedMsg{err: err}
		}
		return payloadMsg(payload)
	}
}

func (m model) send(msg ws.Message) tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Send(msg); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if cmd := m.submit(m.input.Value()); cmd != nil {
				cmds = append(cmds, cmd)
			}
			m.input.Reset()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 5
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = height
		}
		m.refresh()

	case payloadMsg:
		m.receive(payloads.Payload(msg))
		cmds = append(cmds, m.listen())

	case disconnectedMsg:
		m.addLine(m.styles.errText.Render(fmt.Sprintf("disconnected: %v", msg.err)))

	case sendFailedMsg:
		m.addLine(m.styles.errText.Render(fmt.Sprintf("send failed: %v", msg.err)))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready && scrolls(msg) {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// scrolls reports whether msg is meant for the transcript rather than the
// input line.
func scrolls(msg tea.Msg) bool {
	switch msg := msg.(type) {
	case tea.MouseMsg:
		return true
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			return true
		}
	}
	return false
}

// submit turns a line typed by the user into an outbound message.
func (m *model) submit(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	switch {
	case line == "/quit":
		return tea.Quit
	case line == "/interrupt":
		m.addLine(m.styles.notice.Render("(you interrupted)"))
		return m.send(ws.Message{Type: ws.MessageInterrupt, GroupID: m.groupID})
	case strings.HasPrefix(line, "/proactive "):
		text := strings.TrimPrefix(line, "/proactive ")
		m.addLine(m.styles.self.Render("You: ") + text)
		return m.send(ws.Message{Type: ws.MessageTextInput, GroupID: m.groupID, Text: text, FromName: m.name, Intent: string(inputs.IntentProactiveSpeak)})
	case strings.HasPrefix(line, "/forward "):
		target, text, ok := strings.Cut(strings.TrimPrefix(line, "/forward "), " ")
		if !ok || target == "" || strings.TrimSpace(text) == "" {
			m.addLine(m.styles.errText.Render("usage: /forward <group> <text>"))
			return nil
		}
		m.addLine(m.styles.notice.Render(fmt.Sprintf("[to %s] ", target)) + text)
		return m.send(ws.Message{Type: ws.MessageForward, GroupID: m.groupID, TargetGroupID: target, Text: text, FromName: m.name})
	}

	m.addLine(m.styles.self.Render("You: ") + line)
	return m.send(ws.Message{Type: ws.MessageTextInput, GroupID: m.groupID, Text: line, FromName: m.name})
}

func (m *model) receive(payload payloads.Payload) {
	if !payload.IsForwarded() && payload.GroupID != "" && payload.Generation > 0 {
		if payload.Generation < m.generations[payload.GroupID] {
			return
		}
		m.generations[payload.GroupID] = payload.Generation
	}

	if line := m.render(payload); line != "" {
		m.addLine(line)
	}
}

func (m *model) render(payload payloads.Payload) string {
	name := func(fallback string) string {
		if payload.DisplayText != nil && payload.DisplayText.Name != "" {
			return payload.DisplayText.Name
		}
		return fallback
	}

	switch payload.Type {
	case payloads.TypeUserInput:
		return m.styles.member.Render(name("someone")+": ") + payload.Text
	case payloads.TypeAudio:
		if payload.DisplayText == nil || payload.DisplayText.Text == "" {
			return ""
		}
		return m.styles.agent.Render(name("assistant")+": ") + payload.DisplayText.Text
	case payloads.TypeFullText:
		// Already shown sentence by sentence, except for relays.
		if !payload.IsForwarded() {
			return ""
		}
		return m.styles.notice.Render(fmt.Sprintf("[from %s] ", payload.GroupID)) + m.styles.agent.Render(name("assistant")+": ") + payload.Text
	case payloads.TypeControl:
		if payload.Text == payloads.ControlInterruptSignal {
			return m.styles.notice.Render("(interrupted)")
		}
		return ""
	case payloads.TypeError:
		return m.styles.errText.Render("error: " + payload.Text)
	case payloads.TypeGroupUpdate:
		return m.styles.notice.Render(fmt.Sprintf("members of %s: %d connected", payload.GroupID, len(payload.Members)))
	}
	return ""
}

func (m *model) addLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	wrapped := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		wrapped = append(wrapped, wordwrap.String(line, m.viewport.Width))
	}
	m.viewport.SetContent(strings.Join(wrapped, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	header := m.styles.title.Render(fmt.Sprintf("ema-group · %s · %s", m.groupID, m.name))
	if !m.ready {
		return header + "\n\nconnecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s", header, m.styles.border.Render(m.viewport.View()), m.input.View())
}
