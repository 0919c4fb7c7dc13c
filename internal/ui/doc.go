// Package ui renders the terminal monitor with Bubble Tea.
//
// # Layout
//
//	portal  ● ON  qBittorrent v4.6.2  ↓ 3.2 MiB/s  ↑ 410.0 KiB/s
//	 all 12   downloading 3   seeding 8   paused 1   errored 0
//	NAME                      STATE     PROGRESS          DOWN   UP   ETA
//	ubuntu-24.04.iso          downloading ███████░░░ 71.3%  ...
//	f/tab Next filter • T Cycle theme • h/? Toggle help • q Quit
//
// The header shows a spinner while the first poll is outstanding. After two
// failed polls in a row it switches to an offline banner with a short error
// class (LOGIN FAILED, HTTP 500, UNREACHABLE, TIMEOUT) and keeps the last
// torrent list on screen.
//
// # Data Flow
//
// The model never talks to qBittorrent. A tick every PollTick reads
// state.Store.Snapshot and the background poller in internal/app writes to
// the store.
//
// # Preferences
//
// Theme and filter changes are written to the prefs file right away, so the
// next session starts where the last one ended.
package ui
