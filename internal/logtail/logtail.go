package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Read returns at most maxLines from the end of the file at path. A missing
// file yields no lines and no error.
func Read(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]string, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	next, count := 0, 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	if count < maxLines {
		return append([]string(nil), ring[:count]...), nil
	}
	lines := make([]string, 0, count)
	lines = append(lines, ring[next:]...)
	return append(lines, ring[:next]...), nil
}

// Level extracts the slog level from a text or JSON log line, returning
// "DEBUG", "INFO", "WARN", "ERROR" or "" when none is present.
func Level(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var entry struct {
			Level string `json:"level"`
		}
		if json.Unmarshal([]byte(trimmed), &entry) == nil {
			return normalizeLevel(entry.Level)
		}
		return ""
	}
	for _, field := range strings.Fields(trimmed) {
		if value, ok := strings.CutPrefix(field, "level="); ok {
			return normalizeLevel(value)
		}
	}
	return ""
}

func normalizeLevel(level string) string {
	level = strings.ToUpper(strings.TrimSpace(level))
	// slog renders offsets such as WARN+2; keep the base name.
	if i := strings.IndexAny(level, "+-"); i > 0 {
		level = level[:i]
	}
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return level
	default:
		return ""
	}
}
