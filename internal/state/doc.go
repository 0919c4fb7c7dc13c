// Package state shares the latest qBittorrent poll between the background
// poller and the terminal view.
//
// # Overview
//
// The poller is the single writer and calls Store.Update after each refresh.
// The UI reads Store.Snapshot on its own tick. A sync.RWMutex guards the
// snapshot and is held only while copying, never during network I/O.
//
//	poller ──Update(poll, err)──▶ Store ──Snapshot()──▶ ui
//
// # Update Semantics
//
//	store.Update(poll, nil)
//	→ version, torrents and transfer replaced
//	→ LastError cleared, ConsecutiveFailures reset
//
//	store.Update(state.Poll{}, err)
//	→ previous data kept
//	→ LastError = err, ConsecutiveFailures++
//
// After two consecutive failures Snapshot.IsOffline reports true, which the UI
// renders as an offline banner while still showing the last good data.
//
// # Copies
//
// Snapshot returns its own torrent slice and a wrapped copy of the last error,
// so callers may sort or filter the result freely.
//
// The zero Store is ready to use.
package state
