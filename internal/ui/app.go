// Package ui provides the Bubble Tea terminal view of a qBittorrent instance.
package ui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/portal/internal/logging"
	"github.com/five82/portal/internal/logtail"
	"github.com/five82/portal/internal/prefs"
	"github.com/five82/portal/internal/qbittorrent"
	"github.com/five82/portal/internal/state"
)

// Filter selects which torrents the list shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterDownloading
	FilterSeeding
	FilterPaused
	FilterErrored
	filterCount
)

var filterNames = [...]string{"all", "downloading", "seeding", "paused", "errored"}

func (f Filter) String() string {
	if f < 0 || f >= filterCount {
		return filterNames[FilterAll]
	}
	return filterNames[f]
}

// ParseFilter maps a filter name back to a Filter; unknown names mean all.
func ParseFilter(name string) Filter {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range filterNames {
		if n == name {
			return Filter(i)
		}
	}
	return FilterAll
}

// Matches reports whether t belongs in the filtered list.
func (f Filter) Matches(t qbittorrent.Torrent) bool {
	group := t.StateGroup()
	switch f {
	case FilterDownloading:
		return group == qbittorrent.GroupDownloading
	case FilterSeeding:
		return group == qbittorrent.GroupSeeding
	case FilterPaused:
		return group == qbittorrent.GroupPaused
	case FilterErrored:
		return group == qbittorrent.GroupErrored
	default:
		return true
	}
}

// Options configures the UI.
type Options struct {
	Store     *state.Store
	PollTick  time.Duration
	ThemeName string
	Filter    string
	PrefsPath string
	LogPath   string       // watch log shown by the log panel; empty disables it
	Logger    *slog.Logger // nil discards
}

// Model is the root Bubble Tea model.
type Model struct {
	store     *state.Store
	prefsPath string
	logPath   string
	pollTick  time.Duration
	logger    *slog.Logger

	theme   Theme
	keys    keyMap
	help    help.Model
	spinner spinner.Model

	width  int
	height int
	ready  bool

	snapshot    state.Snapshot
	lastUpdated time.Time

	filter      Filter
	selectedRow int
	offset      int
	selected    string // hash of the selected torrent, kept across refreshes

	showHelp bool
	showLogs bool
	logLines []string
	logErr   error
}

// New creates a Model.
func New(opts Options) Model {
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	theme := GetTheme(opts.ThemeName)
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Warning))

	return Model{
		store:     opts.Store,
		prefsPath: opts.PrefsPath,
		logPath:   opts.LogPath,
		pollTick:  pollTick,
		logger:    logger,
		theme:     theme,
		keys:      defaultKeyMap(),
		help:      help.New(),
		spinner:   sp,
		filter:    ParseFilter(opts.Filter),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick), m.spinner.Tick}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		m.clampSelection()
		return m, nil

	case tickMsg:
		var cmds []tea.Cmd
		if m.store != nil {
			cmds = append(cmds, fetchSnapshotCmd(m.store))
		}
		if m.showLogs {
			cmds = append(cmds, readLogCmd(m.logPath, logPanelLines))
		}
		cmds = append(cmds, tickCmd(m.pollTick))
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		m.lastUpdated = time.Now()
		m.clampSelection()
		return m, nil

	case logLinesMsg:
		m.logLines, m.logErr = msg.lines, msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Quit) && msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
	case key.Matches(msg, m.keys.ToggleLogs):
		if m.logPath == "" {
			return m, nil
		}
		m.showLogs = !m.showLogs
		if m.showLogs {
			return m, readLogCmd(m.logPath, logPanelLines)
		}
	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Warning))
		m.savePrefs()
	case key.Matches(msg, m.keys.CycleFilter):
		m.setFilter((m.filter + 1) % filterCount)
	case key.Matches(msg, m.keys.PrevFilter):
		m.setFilter((m.filter + filterCount - 1) % filterCount)
	default:
		m.handleNavigation(msg)
	}
	return m, nil
}

func (m *Model) handleNavigation(msg tea.KeyMsg) {
	count := len(m.visibleTorrents())
	if count == 0 {
		return
	}
	page := m.listHeight()
	switch {
	case key.Matches(msg, m.keys.Up):
		m.selectedRow--
	case key.Matches(msg, m.keys.Down):
		m.selectedRow++
	case key.Matches(msg, m.keys.Top):
		m.selectedRow = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selectedRow = count - 1
	case key.Matches(msg, m.keys.PageUp):
		m.selectedRow -= page
	case key.Matches(msg, m.keys.PageDown):
		m.selectedRow += page
	default:
		return
	}
	m.selectedRow = clamp(m.selectedRow, 0, count-1)
	m.selected = m.visibleTorrents()[m.selectedRow].Hash
	m.scrollToSelection()
}

func (m *Model) setFilter(f Filter) {
	m.filter = f
	m.selectedRow = 0
	m.offset = 0
	m.selected = ""
	m.clampSelection()
	m.savePrefs()
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	p := prefs.Prefs{Theme: m.theme.Name, Filter: m.filter.String()}
	if err := prefs.Save(m.prefsPath, p); err != nil {
		m.logger.Warn("save preferences failed", "error", err)
	}
}

// visibleTorrents returns the torrents that pass the active filter.
func (m Model) visibleTorrents() []qbittorrent.Torrent {
	out := make([]qbittorrent.Torrent, 0, len(m.snapshot.Torrents))
	for _, t := range m.snapshot.Torrents {
		if m.filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// clampSelection keeps the selection on the same torrent when it is still
// visible and inside the list bounds otherwise.
func (m *Model) clampSelection() {
	items := m.visibleTorrents()
	if len(items) == 0 {
		m.selectedRow, m.offset = 0, 0
		return
	}
	if m.selected != "" {
		for i, t := range items {
			if t.Hash == m.selected {
				m.selectedRow = i
				break
			}
		}
	}
	m.selectedRow = clamp(m.selectedRow, 0, len(items)-1)
	m.selected = items[m.selectedRow].Hash
	m.scrollToSelection()
}

func (m *Model) scrollToSelection() {
	page := m.listHeight()
	if m.selectedRow < m.offset {
		m.offset = m.selectedRow
	}
	if m.selectedRow >= m.offset+page {
		m.offset = m.selectedRow - page + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// listHeight is the number of torrent rows that fit on screen.
func (m Model) listHeight() int {
	// header, filter bar, column header, footer
	rows := m.height - 4
	if rows < 1 {
		return 1
	}
	return rows
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// logPanelLines bounds how much of the watch log is read per refresh.
const logPanelLines = 500

type tickMsg time.Time

type logLinesMsg struct {
	lines []string
	err   error
}

type snapshotMsg state.Snapshot

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func readLogCmd(path string, maxLines int) tea.Cmd {
	return func() tea.Msg {
		lines, err := logtail.Read(path, maxLines)
		return logLinesMsg{lines: lines, err: err}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Store == nil {
		return errors.New("ui requires a data store")
	}
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
