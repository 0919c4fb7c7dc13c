// Package logtail reads the end of portal's watch log for the terminal view.
//
// Read keeps a ring buffer of the last maxLines lines, so memory stays bounded
// no matter how large the file grows. Lines longer than 1 MiB stop the scan
// with an error.
//
// Level pulls the slog level out of a line in either handler format:
//
//	time=... level=WARN msg="poll failed"      → "WARN"
//	{"time":"...","level":"ERROR","msg":"x"}   → "ERROR"
//
// The UI uses it to color each line.
package logtail
