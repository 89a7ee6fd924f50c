package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leandrodaf/midimapper/sdk/queue"
	"github.com/leandrodaf/midimapper/sdk/recorder"
	"github.com/leandrodaf/midimapper/sdk/timeline"
)

const barWidth = 24

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3C3C3C"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56"))

	stateStyles = map[recorder.State]lipgloss.Style{
		recorder.Idle:      lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("#444444")),
		recorder.Armed:     lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("#B58900")).Foreground(lipgloss.Color("#000000")),
		recorder.Recording: lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("#DC322F")).Bold(true),
	}
)

type changedMsg struct{}

type learnedMsg learned

type requestMsg string

// model is the terminal monitor: live control values, session state and learn.
type model struct {
	p        *pipeline
	targets  []string
	selected int
	status   string
	failed   bool
	quitting bool
}

func newModel(p *pipeline) model {
	return model{p: p, targets: p.learnTargets()}
}

func waitChanged(p *pipeline) tea.Cmd {
	return func() tea.Msg {
		<-p.changed
		return changedMsg{}
	}
}

func waitLearned(p *pipeline) tea.Cmd {
	return func() tea.Msg {
		return learnedMsg(<-p.learned)
	}
}

func waitRequest(p *pipeline) tea.Cmd {
	return func() tea.Msg {
		return requestMsg(<-p.requests)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitChanged(m.p), waitLearned(m.p), waitRequest(m.p))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.p.engine.CancelLearn()
			m.p.rec.Stop()
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.targets)-1 {
				m.selected++
			}

		case "l":
			if m.p.engine.CancelLearn() {
				m.setStatus("learn cancelled", nil)
				break
			}
			target := m.targets[m.selected]
			m.p.armLearn(target)
			m.setStatus("move a control to bind it to "+target, nil)

		case "r":
			err := m.p.toggleRecording()
			m.setStatus("recording "+m.p.rec.State().String(), err)

		case "s":
			path, err := m.p.saveMappings()
			m.setStatus("mappings saved to "+path, err)

		case "b":
			m.setStatus(m.p.handle(timeline.TargetBakeSave))

		case "n":
			m.setStatus(m.p.handle(timeline.TargetLoadNext))

		case "x":
			i := m.p.queue.CurrentIndex()
			if i == queue.IndexNone {
				m.setStatus("no take loaded", nil)
				break
			}
			err := m.p.queue.RemoveAt(i)
			m.setStatus(fmt.Sprintf("removed take %d from the queue", i+1), err)
		}

	case changedMsg:
		return m, waitChanged(m.p)

	case learnedMsg:
		l := learned(msg)
		err := m.p.bind(l)
		m.setStatus(fmt.Sprintf("bound %s to %s", l.key, l.target), err)
		return m, waitLearned(m.p)

	case requestMsg:
		m.setStatus(m.p.handle(string(msg)))
		return m, waitRequest(m.p)
	}
	return m, nil
}

func (m *model) setStatus(s string, err error) {
	m.failed = err != nil
	if err != nil {
		s = err.Error()
	}
	m.status = s
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	state := m.p.rec.State()
	b.WriteString(titleStyle.Render("midimapper"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s / %s  ", m.p.device, m.p.rig.Name())))
	b.WriteString(stateStyles[state].Render(strings.ToUpper(state.String())))
	if m.p.engine.Learning() {
		b.WriteString(" " + stateStyles[recorder.Armed].Render("LEARN"))
	}
	b.WriteString("\n\n")

	bound := make(map[string]string)
	for _, e := range m.p.table.Entries() {
		bound[e.Target] = e.Key.String()
	}

	for i, target := range m.targets {
		line := fmt.Sprintf("%-22s %-16s", target, bound[target])
		if c, ok := m.p.rig.Control(target); ok {
			v, _ := m.p.rig.Value(target)
			line += " " + bar(v, c.Range.Min, c.Range.Max) + fmt.Sprintf(" %7.3f", v)
		}
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	start, end := m.p.timeline.PlayRange()
	es, rs := m.p.engine.Stats(), m.p.rec.Stats()
	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf(
		"frame %d [%d-%d] step %d  |  processed %d unmapped %d  |  keyframes %d coalesced %d dropped %d",
		m.p.timeline.Playhead(), start, end, m.p.transport.StepSize(),
		es.Processed, es.Unmapped, rs.Keyframes, rs.Coalesced, rs.Dropped)))
	b.WriteString("\n")
	if n := m.p.queue.Len(); n > 0 {
		line := fmt.Sprintf("queue %d takes", n)
		if cur, ok := m.p.queue.Current(); ok {
			line = fmt.Sprintf("queue %d/%d  %s", m.p.queue.CurrentIndex()+1, n, cur)
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	}

	if m.status != "" {
		style := statusStyle
		if m.failed {
			style = errorStyle
		}
		b.WriteString(style.Render(m.status) + "\n")
	}
	b.WriteString(dimStyle.Render("↑/↓ select  l learn  r record  s save  b bake  n next take  x unqueue  q quit"))
	return b.String()
}

// bar draws v within [lo, hi] as a fixed-width gauge.
func bar(v, lo, hi float64) string {
	n := 0
	if hi > lo {
		n = int((v - lo) / (hi - lo) * barWidth)
	}
	n = max(0, min(n, barWidth))
	return strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
}
