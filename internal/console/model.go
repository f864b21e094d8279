// Package console is a terminal front end for personabot. It talks to the
// same generation queue as the Discord adapter, which makes it handy for
// trying characters and models without a Discord server.
package console

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/textarea"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

// Generator produces completions. *queue.Manager implements it.
type Generator interface {
	Submit(ctx context.Context, prompt string, ch character.Character, temperature *float64, opts ...queue.Option) (*llm.Completion, error)
	GetStatus() queue.Status
}

// Options configures the console.
type Options struct {
	Generator   Generator
	Roster      *character.Roster
	Registry    *character.Registry
	Temperature *float64
	LogPath     string
	Logger      *zap.Logger
}

type replyMsg struct {
	text string
	err  error
}

type logWrittenMsg struct {
	path string
	err  error
}

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	opts Options
	log  *zap.Logger

	conv     conversation
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width   int
	height  int
	waiting bool
	notice  string
}

// New creates the console model.
func New(ctx context.Context, opts Options) *Model {
	if opts.LogPath == "" {
		opts.LogPath = "log.txt"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "Say something..."
	ta.Focus()
	ta.Prompt = ""
	ta.CharLimit = 2000
	ta.ShowLineNumbers = false
	ta.SetHeight(3)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		ctx:      ctx,
		opts:     opts,
		log:      logger.Named("console"),
		viewport: viewport.New(),
		input:    ta,
		spinner:  s,
	}
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if cmd := m.send(); cmd != nil {
				return m, tea.Batch(cmd, m.spinner.Tick)
			}
			return m, nil
		case "ctrl+r":
			if cmd := m.retry(); cmd != nil {
				return m, tea.Batch(cmd, m.spinner.Tick)
			}
			return m, nil
		case "ctrl+d":
			if !m.waiting && m.conv.drop() {
				m.notice = "Deleted last reply"
				m.refresh()
			}
			return m, nil
		case "ctrl+l":
			return m, m.writeLog()
		case "tab":
			if !m.waiting {
				m.cycleCharacter()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.log.Warn("Generation failed", zap.Error(msg.err))
			m.conv.finish("Failed to generate a response. Please try again.", true)
		} else {
			m.conv.finish(msg.text, false)
		}
		m.refresh()
		return m, nil

	case logWrittenMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Log failed: %v", msg.err)
		} else {
			m.notice = "Log written to " + msg.path
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	if m.waiting {
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) send() tea.Cmd {
	input := strings.TrimSpace(m.input.Value())
	if m.waiting || input == "" {
		return nil
	}
	m.input.Reset()

	ch := m.opts.Registry.Current()
	prompt := m.conv.begin(input, ch)
	m.notice = ""
	m.refresh()
	return m.generate(prompt, ch)
}

func (m *Model) retry() tea.Cmd {
	if m.waiting {
		return nil
	}
	t, ok := m.conv.retry()
	if !ok {
		return nil
	}
	m.notice = "Retrying..."
	m.refresh()
	return m.generate(t.prompt, t.character)
}

func (m *Model) generate(prompt string, ch character.Character) tea.Cmd {
	m.waiting = true
	ctx, gen, temp := m.ctx, m.opts.Generator, m.opts.Temperature
	return func() tea.Msg {
		completion, err := gen.Submit(ctx, prompt, ch, temp, queue.WithSource("console"))
		if err != nil {
			return replyMsg{err: err}
		}
		return replyMsg{text: completion.Text}
	}
}

func (m *Model) writeLog() tea.Cmd {
	path, text := m.opts.LogPath, m.conv.log()
	return func() tea.Msg {
		err := os.WriteFile(path, []byte(text), 0o644)
		return logWrittenMsg{path: path, err: err}
	}
}

// cycleCharacter switches the registry to the next character by id.
func (m *Model) cycleCharacter() {
	ids := m.opts.Roster.IDs()
	if len(ids) == 0 {
		return
	}
	current := m.opts.Registry.Current().ID
	next := ids[0]
	for i, id := range ids {
		if id == current {
			next = ids[(i+1)%len(ids)]
			break
		}
	}
	if ch, ok := m.opts.Roster.Get(next); ok && m.opts.Registry.Set(ch) {
		m.notice = "Now talking to " + ch.Name
		m.log.Info("Character switched", zap.String("character", ch.ID))
	}
}

func (m *Model) layout() {
	sidebarWidth := sidebarWidthFor(m.width)
	mainWidth := max(m.width-sidebarWidth-1, 40)
	viewportHeight := max(m.height-inputHeight-1, 5)

	m.viewport = viewport.New(
		viewport.WithWidth(mainWidth),
		viewport.WithHeight(viewportHeight),
	)
	m.viewport.MouseWheelEnabled = true
	m.input.SetWidth(mainWidth - 2)
	m.refresh()
}

func (m *Model) refresh() {
	width := m.viewport.Width()
	if width <= 0 {
		width = 80
	}
	m.viewport.SetContent(renderMarkdown(m.conv.markdown(), width))
	m.viewport.GotoBottom()
}

// View renders the UI
func (m *Model) View() tea.View {
	if m.width == 0 || m.height == 0 {
		return tea.NewView("Initializing...")
	}

	sidebarWidth := sidebarWidthFor(m.width)
	mainWidth := max(m.width-sidebarWidth-1, 40)
	viewportHeight := max(m.height-inputHeight-1, 5)

	mainView := lipgloss.NewStyle().
		Width(mainWidth).
		Height(viewportHeight).
		Render(m.viewport.View())

	prompt := promptStyle.Render("> ")
	if m.waiting {
		prompt = m.spinner.View() + " "
	}
	inputSection := lipgloss.NewStyle().
		Width(mainWidth).
		Render(lipgloss.JoinVertical(
			lipgloss.Left,
			strings.Repeat("─", mainWidth),
			lipgloss.JoinHorizontal(lipgloss.Left, prompt, m.input.View()),
		))

	help := helpStyle.Width(mainWidth).
		Render("enter: send • ctrl+r: retry • ctrl+d: delete • ctrl+l: log • tab: character • esc: quit")

	body := lipgloss.JoinVertical(lipgloss.Left, mainView, inputSection, help)

	return tea.NewView(lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderSidebar(sidebarWidth),
		" ",
		lipgloss.NewStyle().Width(mainWidth).Height(m.height).Render(body),
	))
}

func (m *Model) renderSidebar(width int) string {
	ch := m.opts.Registry.Current()
	status := m.opts.Generator.GetStatus()

	var b strings.Builder
	b.WriteString(titleStyle.Render("personabot") + "\n\n")
	b.WriteString(labelStyle.Render("Character") + "\n")
	b.WriteString(ch.Name + "\n")
	b.WriteString(dimStyle.Render(ch.Model) + "\n\n")
	b.WriteString(labelStyle.Render("Queue") + "\n")
	fmt.Fprintf(&b, "pending   %d\n", status.Pending)
	fmt.Fprintf(&b, "processed %d\n", status.Processed)
	fmt.Fprintf(&b, "failed    %d\n", status.Failed)
	if status.AvgTime > 0 {
		fmt.Fprintf(&b, "avg       %s\n", status.AvgTime.Round(10*time.Millisecond))
	}
	if m.notice != "" {
		b.WriteString("\n" + dimStyle.Render(m.notice) + "\n")
	}

	return sidebarStyle.Width(width).Height(m.height).Render(b.String())
}

const inputHeight = 5

// sidebarWidthFor is 20% of the screen, clamped to [20, 30].
func sidebarWidthFor(width int) int {
	return min(max(width/5, 20), 30)
}
