package state

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/five82/portal/internal/qbittorrent"
)

func samplePoll() Poll {
	return Poll{
		Version: "v4.6.2",
		Torrents: []qbittorrent.Torrent{
			{Hash: "a", Name: "ubuntu.iso", State: "downloading"},
			{Hash: "b", Name: "debian.iso", State: "stalledUP"},
		},
		Transfer:    qbittorrent.TransferInfo{DLSpeed: 1024, ConnectionStatus: "connected"},
		HasTransfer: true,
	}
}

func TestStore_UpdateAndSnapshotClone(t *testing.T) {
	var s Store

	before := time.Now()
	s.Update(samplePoll(), nil)

	snap := s.Snapshot()
	if !snap.Connected || snap.Version != "v4.6.2" {
		t.Fatalf("snapshot = %#v, want connected v4.6.2", snap)
	}
	if len(snap.Torrents) != 2 || snap.Torrents[0].Hash != "a" {
		t.Fatalf("snapshot torrents = %#v, want 2 items", snap.Torrents)
	}
	if !snap.HasTransfer || snap.Transfer.DLSpeed != 1024 {
		t.Fatalf("snapshot transfer = %#v", snap.Transfer)
	}
	if snap.LastUpdated.Before(before) {
		t.Fatalf("LastUpdated = %v, want >= %v", snap.LastUpdated, before)
	}
	if snap.LastError != nil {
		t.Fatalf("LastError = %v, want nil", snap.LastError)
	}

	snap.Torrents[0].Hash = "mutated"
	if got := s.Snapshot().Torrents[0].Hash; got != "a" {
		t.Fatalf("Snapshot should clone torrents; got hash %q want a", got)
	}
}

func TestStore_UpdateErrorKeepsPreviousData(t *testing.T) {
	var s Store

	s.Update(samplePoll(), nil)
	prev := s.Snapshot()

	origErr := errors.New("boom")
	s.Update(Poll{}, origErr)

	snap := s.Snapshot()
	if snap.Version != prev.Version || len(snap.Torrents) != len(prev.Torrents) {
		t.Fatalf("data changed on error: got %#v want %#v", snap, prev)
	}
	if !snap.Connected {
		t.Fatal("Connected should survive a failed poll")
	}
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if !errors.Is(snap.LastError, origErr) {
		t.Fatalf("LastError should wrap the recorded error")
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
}

func TestStore_ConsecutiveFailures(t *testing.T) {
	var s Store

	if snap := s.Snapshot(); snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("fresh store = %#v, want online with 0 failures", snap)
	}

	for i := 1; i <= 3; i++ {
		s.Update(Poll{}, errors.New("fail"))
		snap := s.Snapshot()
		if snap.ConsecutiveFailures != i {
			t.Fatalf("ConsecutiveFailures = %d, want %d", snap.ConsecutiveFailures, i)
		}
		if want := i >= 2; snap.IsOffline() != want {
			t.Fatalf("IsOffline() = %v after %d failures, want %v", snap.IsOffline(), i, want)
		}
	}

	s.Update(samplePoll(), nil)
	if snap := s.Snapshot(); snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("success should reset failures, got %d", snap.ConsecutiveFailures)
	}
}

func TestSnapshot_CountByGroup(t *testing.T) {
	var s Store
	s.Update(samplePoll(), nil)

	counts := s.Snapshot().CountByGroup()
	if counts[qbittorrent.GroupDownloading] != 1 || counts[qbittorrent.GroupSeeding] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
