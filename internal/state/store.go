package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/five82/portal/internal/qbittorrent"
)

// Poll carries the result of one successful refresh.
type Poll struct {
	Version     string
	WebAPI      string
	Torrents    []qbittorrent.Torrent
	Transfer    qbittorrent.TransferInfo
	HasTransfer bool
}

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Version             string
	WebAPI              string // WebUI API version, empty until known
	Torrents            []qbittorrent.Torrent
	Transfer            qbittorrent.TransferInfo
	HasTransfer         bool
	Connected           bool // at least one poll has succeeded
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int
}

// IsOffline returns true when qBittorrent has been unreachable for multiple polls.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// CountByGroup tallies torrents per state group.
func (s Snapshot) CountByGroup() map[string]int {
	counts := make(map[string]int)
	for _, t := range s.Torrents {
		counts[t.StateGroup()]++
	}
	return counts
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// Update replaces the stored snapshot. When err is non-nil the previous data is
// kept but the error is recorded for visibility.
func (s *Store) Update(poll Poll, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.LastUpdated = time.Now()
	if err != nil {
		s.snapshot.LastError = err
		s.snapshot.ConsecutiveFailures++
		return
	}

	s.snapshot.Version = poll.Version
	s.snapshot.WebAPI = poll.WebAPI
	s.snapshot.Torrents = cloneTorrents(poll.Torrents)
	s.snapshot.Transfer = poll.Transfer
	s.snapshot.HasTransfer = poll.HasTransfer
	s.snapshot.Connected = true
	s.snapshot.LastError = nil
	s.snapshot.ConsecutiveFailures = 0
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Torrents = cloneTorrents(s.snapshot.Torrents)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func cloneTorrents(items []qbittorrent.Torrent) []qbittorrent.Torrent {
	if len(items) == 0 {
		return nil
	}
	dup := make([]qbittorrent.Torrent, len(items))
	copy(dup, items)
	return dup
}
