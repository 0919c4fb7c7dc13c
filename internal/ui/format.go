package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/portal/internal/qbittorrent"
)

const unknownETA = "∞"

// formatRate renders bytes per second with binary units.
func formatRate(bytesPerSec int64) string {
	return formatBytes(bytesPerSec) + "/s"
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// formatPercent renders a 0-100 value with one decimal, like the status page.
func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

func formatETA(t qbittorrent.Torrent) string {
	if t.Percent() >= 100 {
		return "done"
	}
	d := t.ETADuration()
	if d <= 0 {
		return unknownETA
	}
	d = d.Round(time.Second)
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		return fmt.Sprintf("%dd%dh", days, (d-days*24*time.Hour)/time.Hour)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", d/time.Hour, (d%time.Hour)/time.Minute)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", d/time.Minute, (d%time.Minute)/time.Second)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// progressBar renders a fixed-width bar for a 0-100 value.
func progressBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// truncate shortens s to width display cells, ending with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// padRight pads s with spaces to width display cells.
func padRight(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// classifyConnectionError turns a poll error into a short header label.
func classifyConnectionError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, qbittorrent.ErrAuthentication) {
		return "LOGIN FAILED"
	}
	var reqErr *qbittorrent.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Status != 0 {
			return fmt.Sprintf("HTTP %d", reqErr.Status)
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "UNREACHABLE"
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return "TIMEOUT"
	case strings.Contains(msg, "no such host"):
		return "DNS ERROR"
	default:
		return "OFFLINE"
	}
}
