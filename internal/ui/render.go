package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/portal/internal/logtail"
	"github.com/five82/portal/internal/qbittorrent"
)

// Column widths for the torrent list; the name column takes what is left.
const (
	colState    = 13
	colProgress = 18
	colSpeed    = 12
	colETA      = 8
	minNameCol  = 12
)

func (m Model) renderMain() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderFilterBar())
	b.WriteString("\n")
	if m.showLogs {
		b.WriteString(m.renderLogs())
	} else {
		b.WriteString(m.renderTorrents())
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// renderHeader shows connection state, version and global transfer rates.
func (m Model) renderHeader() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	sep := styles.Text.Render("  ")
	parts := []string{styles.Logo.Render("portal")}

	switch {
	case !m.snapshot.Connected && m.snapshot.LastError == nil:
		parts = append(parts, m.spinner.View()+styles.WarningText.Render(" Connecting to qBittorrent..."))
	case m.snapshot.LastError != nil && (m.snapshot.IsOffline() || !m.snapshot.Connected):
		last := "soon"
		if !m.snapshot.LastUpdated.IsZero() {
			last = m.snapshot.LastUpdated.Format("15:04:05")
		}
		parts = append(parts,
			styles.DangerText.Render("● "+classifyConnectionError(m.snapshot.LastError)),
			m.spinner.View()+styles.WarningText.Bold(true).Render(" Retrying..."),
			styles.MutedText.Render(last),
		)
	default:
		parts = append(parts, styles.SuccessText.Render("● ON"))
		if m.snapshot.Version != "" {
			parts = append(parts, styles.MutedText.Render("qBittorrent ")+styles.Text.Render(m.snapshot.Version))
		}
		if m.snapshot.WebAPI != "" {
			parts = append(parts, styles.MutedText.Render("API ")+styles.Text.Render(m.snapshot.WebAPI))
		}
		if m.snapshot.LastError != nil {
			parts = append(parts, styles.WarningText.Render("poll failed, showing last data"))
		}
	}

	if m.snapshot.HasTransfer {
		tr := m.snapshot.Transfer
		parts = append(parts,
			styles.AccentText.Render("↓ "+formatRate(tr.DLSpeed)),
			styles.SuccessText.Render("↑ "+formatRate(tr.UPSpeed)),
		)
		if m.width >= 100 {
			parts = append(parts, styles.MutedText.Render(fmt.Sprintf("DHT %d", tr.DHTNodes)))
		}
	}

	return m.theme.Styles().Header.Width(m.width).Render(strings.Join(parts, sep))
}

// renderFilterBar lists the filters with per-group counts.
func (m Model) renderFilterBar() string {
	styles := m.theme.Styles()
	counts := m.snapshot.CountByGroup()
	groupFor := map[Filter]string{
		FilterDownloading: qbittorrent.GroupDownloading,
		FilterSeeding:     qbittorrent.GroupSeeding,
		FilterPaused:      qbittorrent.GroupPaused,
		FilterErrored:     qbittorrent.GroupErrored,
	}

	parts := make([]string, 0, filterCount)
	for f := FilterAll; f < filterCount; f++ {
		n := len(m.snapshot.Torrents)
		if group, ok := groupFor[f]; ok {
			n = counts[group]
		}
		label := fmt.Sprintf("%s %d", f, n)
		if f == m.filter {
			parts = append(parts, styles.Selected.Bold(true).Padding(0, 1).Render(label))
		} else {
			parts = append(parts, styles.MutedText.Padding(0, 1).Render(label))
		}
	}
	return lipgloss.NewStyle().Width(m.width).Render(strings.Join(parts, " "))
}

func (m Model) nameWidth() int {
	w := m.width - colState - colProgress - 2*colSpeed - colETA - 6
	if w < minNameCol {
		return minNameCol
	}
	return w
}

func (m Model) renderTorrents() string {
	styles := m.theme.Styles()
	items := m.visibleTorrents()
	rows := m.listHeight()
	nameW := m.nameWidth()

	header := strings.Join([]string{
		padRight("NAME", nameW),
		padRight("STATE", colState),
		padRight("PROGRESS", colProgress),
		padRight("DOWN", colSpeed),
		padRight("UP", colSpeed),
		padRight("ETA", colETA),
	}, " ")
	lines := []string{styles.FaintText.Bold(true).Render(header)}

	if len(items) == 0 {
		msg := "No active torrents"
		if m.filter != FilterAll && len(m.snapshot.Torrents) > 0 {
			msg = fmt.Sprintf("No %s torrents", m.filter)
		}
		lines = append(lines, styles.MutedText.Render(msg))
		for len(lines) < rows+1 {
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}

	end := m.offset + rows
	if end > len(items) {
		end = len(items)
	}
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderRow(items[i], i == m.selectedRow, nameW, styles))
	}
	for len(lines) < rows+1 {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(t qbittorrent.Torrent, selected bool, nameW int, styles Styles) string {
	pct := t.Percent()
	barW := colProgress - 7
	progress := padRight(progressBar(pct, barW)+" "+formatPercent(pct), colProgress)

	name := padRight(truncate(t.Name, nameW), nameW)
	badge := styles.GroupStyle(t.StateGroup()).Render(truncate(t.StateGroup(), colState-2))
	badge = padRight(badge, colState)
	rest := strings.Join([]string{
		progress,
		padRight(formatRate(t.DLSpeed), colSpeed),
		padRight(formatRate(t.UPSpeed), colSpeed),
		padRight(formatETA(t), colETA),
	}, " ")

	if selected {
		return styles.Selected.Render(name) + " " + badge + " " + styles.Selected.Render(rest)
	}
	return styles.Text.Render(name) + " " + badge + " " + styles.MutedText.Render(rest)
}

// renderLogs shows the tail of the watch log, colored by level.
func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	rows := m.listHeight()
	lines := []string{styles.FaintText.Bold(true).Render("LOG " + m.logPath)}

	switch {
	case m.logErr != nil:
		lines = append(lines, styles.DangerText.Render(m.logErr.Error()))
	case len(m.logLines) == 0:
		lines = append(lines, styles.MutedText.Render("No log entries yet"))
	default:
		tail := m.logLines
		if len(tail) > rows {
			tail = tail[len(tail)-rows:]
		}
		for _, line := range tail {
			lines = append(lines, levelStyle(styles, logtail.Level(line)).Render(truncate(line, m.width)))
		}
	}
	for len(lines) < rows+1 {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func levelStyle(styles Styles, level string) lipgloss.Style {
	switch level {
	case "ERROR":
		return styles.DangerText
	case "WARN":
		return styles.WarningText
	case "DEBUG":
		return styles.FaintText
	default:
		return styles.Text
	}
}

func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	left := m.help.ShortHelpView(m.keys.ShortHelp())
	right := styles.FaintText.Render(fmt.Sprintf("%s · %s", m.theme.Name, m.filter))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return styles.Footer.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	styles := m.theme.Styles()
	h := m.help
	h.ShowAll = true

	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render("Keyboard Shortcuts"))
	b.WriteString("\n")
	b.WriteString(styles.FaintText.Render(strings.Repeat("─", 30)))
	b.WriteString("\n\n")
	b.WriteString(h.View(m.keys))
	b.WriteString("\n\n")
	b.WriteString(styles.AccentText.Render("Themes: " + strings.Join(ThemeNames(), ", ")))
	b.WriteString("\n")
	b.WriteString(styles.FaintText.Render("Press any key to close"))

	box := styles.Panel.Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
