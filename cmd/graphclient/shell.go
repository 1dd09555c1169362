package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

func runShell(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("shell", g, os.Stderr)
	script := fs.String("script", "", "run commands from a file ('-' for stdin) instead of the interactive shell")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	s := &session{dg: dg}
	defer s.close(context.WithoutCancel(ctx))

	if *script != "" {
		var r io.Reader = os.Stdin
		if *script != "-" {
			f, err := os.Open(*script)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return runScript(ctx, s, r, out)
	}

	p := tea.NewProgram(newShellModel(ctx, s, g.timeout), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// runScript executes one command per line and stops at the first error.
func runScript(ctx context.Context, s *session, r io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		res, err := s.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if res != "" {
			fmt.Fprintln(out, res)
		}
	}
	return sc.Err()
}

type shellKeyMap struct {
	Enter key.Binding
	Prev  key.Binding
	Next  key.Binding
	Clear key.Binding
	Quit  key.Binding
}

var shellKeys = shellKeyMap{
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "run"),
	),
	Prev: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "previous"),
	),
	Next: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "next"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

func (k shellKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enter, k.Prev, k.Clear, k.Quit}
}

func (k shellKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Enter, k.Prev, k.Next},
		{k.Clear, k.Quit},
	}
}

// resultMsg carries the outcome of one command back to the model.
type resultMsg struct {
	line    string
	out     string
	err     error
	status string
	linRead *api.LinRead
	elapsed time.Duration
}

type shellModel struct {
	ctx     context.Context
	session *session
	timeout time.Duration

	input   textinput.Model
	vector  table.Model
	help    help.Model
	keys    shellKeyMap
	history []string
	histPos int

	output []string
	status string
	busy   bool
	width  int
	height int
}

func newShellModel(ctx context.Context, s *session, timeout time.Duration) shellModel {
	ti := textinput.New()
	ti.Placeholder = `query { me(func: has(name)) { uid name } }`
	ti.Prompt = "graph> "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Group", Width: 6},
			{Title: "Applied", Width: 10},
		}),
		table.WithHeight(6),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	st.Selected = lipgloss.NewStyle()
	t.SetStyles(st)

	return shellModel{
		ctx:     ctx,
		session: s,
		timeout: timeout,
		input:   ti,
		vector:  t,
		help:    help.New(),
		keys:    shellKeys,
		status:  s.status(),
		output:  []string{dimStyle.Render("type help for commands")},
	}
}

func (m shellModel) Init() tea.Cmd {
	return textinput.Blink
}

// run executes line off the UI goroutine. Only one command runs at a time,
// so the session is never shared.
func (m shellModel) run(line string) tea.Cmd {
	s, parent, timeout := m.session, m.ctx, m.timeout
	return func() tea.Msg {
		ctx := parent
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, timeout)
			defer cancel()
		}
		start := time.Now()
		out, err := s.exec(ctx, line)
		return resultMsg{
			line:    line,
			out:     out,
			err:     err,
			status:  s.status(),
			linRead: s.dg.LinRead(),
			elapsed: time.Since(start),
		}
	}
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(20, msg.Width-10)
		return m, nil

	case resultMsg:
		m.busy = false
		if errors.Is(msg.err, errQuit) {
			return m, tea.Quit
		}
		m.status = msg.status
		m.vector.SetRows(linReadRows(msg.linRead))
		m.appendOutput(keyStyle.Render("> " + msg.line))
		switch {
		case msg.err != nil:
			m.appendOutput(errorStyle.Render("✗ " + describe(msg.err)))
		case msg.out != "":
			m.appendOutput(msg.out)
		}
		m.appendOutput(dimStyle.Render(msg.elapsed.Round(time.Microsecond).String()))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.output = nil
			return m, nil
		case key.Matches(msg, m.keys.Prev):
			m.recall(-1)
			return m, nil
		case key.Matches(msg, m.keys.Next):
			m.recall(1)
			return m, nil
		case key.Matches(msg, m.keys.Enter):
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.history = append(m.history, line)
			m.histPos = len(m.history)
			m.input.Reset()
			m.busy = true
			return m, m.run(line)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *shellModel) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.histPos = min(max(m.histPos+delta, 0), len(m.history))
	if m.histPos == len(m.history) {
		m.input.Reset()
		return
	}
	m.input.SetValue(m.history[m.histPos])
	m.input.CursorEnd()
}

func (m *shellModel) appendOutput(text string) {
	m.output = append(m.output, strings.Split(text, "\n")...)
	if len(m.output) > 500 {
		m.output = m.output[len(m.output)-500:]
	}
}

func (m shellModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	side := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(m.vector.View()),
		boxStyle.Render(m.status),
	)
	sideWidth := lipgloss.Width(side)

	// Rows left for output after title, input and help.
	rows := max(3, m.height-8)
	out := m.output
	if len(out) > rows {
		out = out[len(out)-rows:]
	}
	outBox := lipgloss.NewStyle().
		Width(max(20, m.width-sideWidth-2)).
		Height(rows).
		Render(strings.Join(out, "\n"))

	prompt := m.input.View()
	if m.busy {
		prompt = warnStyle.Render("running…")
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("graphclient shell"))
	s.WriteString("\n\n")
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, outBox, side))
	s.WriteString("\n")
	s.WriteString(prompt)
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func linReadRows(lr *api.LinRead) []table.Row {
	if lr == nil {
		return nil
	}
	groups := make([]uint32, 0, len(lr.Ids))
	for g := range lr.Ids {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	rows := make([]table.Row, len(groups))
	for i, g := range groups {
		rows[i] = table.Row{fmt.Sprint(g), fmt.Sprint(lr.Ids[g])}
	}
	return rows
}
