package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/five82/portal/internal/qbittorrent"
	"github.com/five82/portal/internal/state"
)

const (
	defaultPollInterval = 2 * time.Second
	maxBackoff          = 30 * time.Second
)

// StartPoller launches a background goroutine that refreshes the store until
// ctx is cancelled. Consecutive failures stretch the wait exponentially up to
// maxBackoff. It returns immediately.
func StartPoller(ctx context.Context, store *state.Store, fetcher qbittorrent.Fetcher, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if err := refresh(ctx, store, fetcher); err != nil && ctx.Err() == nil {
				logger.Warn("poll failed", "error", err)
			}
			timer.Reset(calculateBackoff(store.Snapshot().ConsecutiveFailures, interval))
		}
	}()
}

// calculateBackoff returns base doubled once per consecutive failure, capped
// at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	wait := base
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

func refresh(ctx context.Context, store *state.Store, fetcher qbittorrent.Fetcher) error {
	version, err := fetcher.Version(ctx)
	if err != nil {
		err = fmt.Errorf("version: %w", err)
		store.Update(state.Poll{}, err)
		return err
	}
	records, err := fetcher.Torrents(ctx, qbittorrent.TorrentQuery{})
	if err != nil {
		err = fmt.Errorf("torrents: %w", err)
		store.Update(state.Poll{}, err)
		return err
	}

	poll := state.Poll{
		Version:  version,
		WebAPI:   store.Snapshot().WebAPI,
		Torrents: qbittorrent.DecodeTorrents(records),
	}
	// The API version only changes with an upgrade, so it is asked for once.
	if poll.WebAPI == "" {
		if webAPI, err := fetcher.WebAPIVersion(ctx); err == nil {
			poll.WebAPI = webAPI
		}
	}
	// Transfer totals are decorative; a failure here keeps the torrent list.
	if raw, err := fetcher.TransferInfo(ctx); err == nil {
		if info, err := qbittorrent.DecodeTransferInfo(raw); err == nil {
			poll.Transfer = info
			poll.HasTransfer = true
		}
	}
	store.Update(poll, nil)
	return nil
}
