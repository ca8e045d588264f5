// Package tui provides a terminal user interface for sampledump
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/transfer"
	"github.com/james-see/sampledump/pkg/wavio"
)

// Sampler-inspired color scheme
var (
	ledGreen   = lipgloss.Color("#39FF14")
	ledAmber   = lipgloss.Color("#FFB000")
	silverGray = lipgloss.Color("#C0C0C0")
	darkGray   = lipgloss.Color("#333333")
	ledRed     = lipgloss.Color("#FF3030")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ledGreen).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	cellStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			Width(12)

	emptyStyle = cellStyle.
			Foreground(lipgloss.Color("#555555"))

	cursorStyle = cellStyle.
			Foreground(ledGreen).
			Bold(true)

	activeStyle = cellStyle.
			Foreground(ledAmber).
			Bold(true)

	corruptStyle = cellStyle.
			Foreground(ledRed)

	statusStyle = lipgloss.NewStyle().
			Foreground(ledAmber).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(ledRed).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ledGreen).
			Padding(1, 2)
)

const columns = 8

// State represents the current TUI state
type State int

const (
	StateGrid State = iota
	StateFilePicker
	StateRunning
)

// Options configures the TUI.
type Options struct {
	Mode    transfer.Mode
	Library string
}

// Model is the slot grid.
type Model struct {
	eng  *transfer.Engine
	bulk *transfer.Bulk
	opts Options

	state      State
	cursor     int
	marked     map[int]bool
	filePicker filepicker.Model
	spinner    spinner.Model
	progress   progress.Model

	active    int
	dir       transfer.Direction
	fraction  float64
	paused    bool
	gridCache string
	status    string
	err       error
	width     int
}

// transferDoneMsg signals that a background operation returned.
type transferDoneMsg struct {
	what string
	err  error
}

// New creates a new TUI model
func New(eng *transfer.Engine, bulk *transfer.Bulk, opts Options) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".wav"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ledGreen)

	if opts.Library == "" {
		opts.Library = "."
	}
	return Model{
		eng:        eng,
		bulk:       bulk,
		opts:       opts,
		state:      StateGrid,
		marked:     make(map[int]bool),
		filePicker: fp,
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		active:     -1,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateGrid
				return m, nil
			case "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)
		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.state = StateGrid
			m.importFile(path)
			return m, nil
		}
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		if msg.slot == m.active {
			m.fraction = msg.fraction
		}
		return m, nil

	case transferringMsg:
		if msg.dir == transfer.DirectionNone {
			if msg.slot == m.active {
				m.active = -1
			}
		} else {
			m.active, m.dir, m.fraction = msg.slot, msg.dir, 0
		}
		return m, nil

	case invalidateMsg:
		m.gridCache = ""
		return m, nil

	case redrawMsg:
		m.paused = msg.paused
		if msg.paused {
			m.gridCache = m.viewGrid()
		} else {
			m.gridCache = ""
		}
		return m, nil

	case bulkDoneMsg:
		r := msg.report
		m.status = fmt.Sprintf("bulk %s: %d completed, %d skipped, %d failed",
			r.Direction, r.Count(transfer.OutcomeCompleted), r.Count(transfer.OutcomeSkipped), r.Count(transfer.OutcomeFailed))
		return m, nil

	case transferDoneMsg:
		m.state = StateGrid
		m.active = -1
		m.err = msg.err
		if msg.err == nil && m.status == "" {
			m.status = msg.what + " done"
		}
		return m, nil
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := m.eng.Store().Len()
	if m.state == StateRunning {
		switch msg.String() {
		case "c", "esc":
			m.bulk.Cancel()
			m.eng.Cancel()
			m.status = "cancelling..."
		case "ctrl+c":
			m.bulk.Cancel()
			m.eng.Cancel()
			return m, tea.Quit
		}
		return m, nil
	}

	m.err = nil
	switch msg.String() {
	case "left", "h":
		m.cursor = max(m.cursor-1, 0)
	case "right", "l":
		m.cursor = min(m.cursor+1, n-1)
	case "up", "k":
		if m.cursor >= columns {
			m.cursor -= columns
		}
	case "down", "j":
		if m.cursor+columns < n {
			m.cursor += columns
		}
	case " ":
		if m.marked[m.cursor] {
			delete(m.marked, m.cursor)
		} else {
			m.marked[m.cursor] = true
		}
		m.gridCache = ""
	case "r":
		return m.run("receive", func(ctx context.Context) error {
			_, err := m.eng.RequestReceive(ctx, m.cursor, transfer.ModeClosed)
			return err
		})
	case "o":
		return m.run("open receive", func(ctx context.Context) error {
			_, err := m.eng.RequestReceive(ctx, m.cursor, transfer.ModeOpen)
			return err
		})
	case "s":
		return m.run("send", func(ctx context.Context) error {
			_, err := m.eng.RequestSend(ctx, m.cursor, m.opts.Mode)
			return err
		})
	case "d":
		desired := m.markedSlots()
		return m.run("stream", func(ctx context.Context) error {
			_, err := m.eng.StartStream(ctx, desired)
			return err
		})
	case "R", "S":
		list := m.markedSlots()
		if len(list) == 0 {
			list = []int{m.cursor}
		}
		rx := msg.String() == "R"
		return m.run("bulk", func(ctx context.Context) error {
			var err error
			if rx {
				_, err = m.bulk.Receive(ctx, list, transfer.ModeClosed)
			} else {
				_, err = m.bulk.Send(ctx, list, m.opts.Mode)
			}
			return err
		})
	case "w":
		m.exportSlot()
	case "i":
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	case "x":
		if err := m.eng.Store().Clear(m.cursor); err != nil {
			m.err = err
		}
		m.gridCache = ""
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) run(what string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	m.state = StateRunning
	m.status = ""
	m.active = m.cursor
	m.fraction = 0
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		return transferDoneMsg{what: what, err: fn(context.Background())}
	})
}

func (m Model) markedSlots() []int {
	list := make([]int, 0, len(m.marked))
	for slot := range m.marked {
		list = append(list, slot)
	}
	sort.Ints(list)
	return list
}

func (m *Model) exportSlot() {
	slot, err := m.eng.Store().Get(m.cursor)
	if err == nil && slot.Empty() {
		err = slots.ErrNoSlot
	}
	if err != nil {
		m.err = err
		return
	}
	name := strings.TrimSpace(slot.Name)
	path := filepath.Join(m.opts.Library, fmt.Sprintf("%02d-%s.wav", m.cursor, name))
	if err := wavio.WriteFile(path, slot); err != nil {
		m.err = err
		return
	}
	m.status = "wrote " + path
}

func (m *Model) importFile(path string) {
	slot, err := wavio.ReadFile(path)
	if err == nil {
		err = m.eng.Store().Import(m.cursor, slot)
	}
	if err != nil {
		m.err = err
		return
	}
	m.gridCache = ""
	m.status = fmt.Sprintf("imported %s into slot %d", filepath.Base(path), m.cursor)
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SAMPLE DUMP "))
	s.WriteString("\n")

	if m.state == StateFilePicker {
		s.WriteString(m.filePicker.View())
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("esc: back to slots"))
		return s.String()
	}

	grid := m.gridCache
	if grid == "" || !m.paused {
		grid = m.viewGrid()
	}
	s.WriteString(boxStyle.Render(grid))
	s.WriteString("\n")
	s.WriteString(m.viewStatus())

	s.WriteString("\n")
	if m.state == StateRunning {
		s.WriteString(helpStyle.Render("c: cancel"))
	} else {
		s.WriteString(helpStyle.Render("arrows: move • space: mark • r/o: receive • s: send • d: stream • R/S: bulk • w: export • i: import • x: clear • q: quit"))
	}
	return s.String()
}

func (m Model) viewGrid() string {
	snapshot := m.eng.Store().Snapshot()
	bank := m.eng.Store().BankSize()
	var s strings.Builder
	for i, slot := range snapshot {
		if i > 0 && i%columns == 0 {
			s.WriteString("\n")
		}
		if i == bank {
			s.WriteString("\n")
		}
		label := fmt.Sprintf("%02d ----", i)
		if !slot.Empty() {
			label = fmt.Sprintf("%02d %s", i, slot.Name)
			if slot.Edited {
				label += "*"
			}
		}
		if m.marked[i] {
			label = "+" + label
		}

		style := cellStyle
		switch {
		case i == m.cursor:
			style = cursorStyle
		case i == m.active:
			style = activeStyle
		case slot.Empty():
			style = emptyStyle
		case slot.Corrupted:
			style = corruptStyle
		}
		s.WriteString(style.Render(label))
	}
	return s.String()
}

func (m Model) viewStatus() string {
	var s strings.Builder
	if m.state == StateRunning {
		if m.active >= 0 {
			s.WriteString(fmt.Sprintf("%s %s slot %02d\n", m.spinner.View(), strings.ToUpper(m.dir.String()), m.active))
		} else {
			s.WriteString(fmt.Sprintf("%s waiting for device...\n", m.spinner.View()))
		}
		s.WriteString(m.progress.ViewAs(m.fraction))
		s.WriteString("\n")
	}
	if slot, _ := m.eng.Store().Get(m.cursor); !slot.Empty() {
		info := fmt.Sprintf("slot %02d: %d words @ %d Hz", m.cursor, slot.NumSamples(), slot.Rate)
		if slot.Loop != nil {
			info += fmt.Sprintf(", loop %d-%d", slot.Loop.Start, slot.Loop.End)
		}
		if slot.Corrupted {
			info += fmt.Sprintf(", corrupted (%d checksum, %d order, %d truncated)",
				slot.Stats.ChecksumErrors, slot.Stats.OutOfOrder, slot.Stats.Truncated)
		}
		s.WriteString(info)
	}
	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	} else if m.status != "" {
		s.WriteString(statusStyle.Render(m.status))
	}
	return s.String()
}

// Run starts the TUI application
func Run(eng *transfer.Engine, bulk *transfer.Bulk, opts Options) error {
	p := tea.NewProgram(New(eng, bulk, opts), tea.WithAltScreen())
	eng.SetObserver(NewObserver(p))
	_, err := p.Run()
	return err
}
