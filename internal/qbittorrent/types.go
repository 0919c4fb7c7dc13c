package qbittorrent

import (
	"encoding/json"
	"strings"
	"time"
)

// etaInfinity is the sentinel qBittorrent reports when no ETA is known.
const etaInfinity = 8640000

// Torrent is the subset of a /api/v2/torrents/info record the terminal view
// renders. The gateway never decodes records; it forwards them verbatim.
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Category string  `json:"category"`
	Progress float64 `json:"progress"`
	DLSpeed  int64   `json:"dlspeed"`
	UPSpeed  int64   `json:"upspeed"`
	Size     int64   `json:"size"`
	ETA      int64   `json:"eta"`
	Ratio    float64 `json:"ratio"`
	AddedOn  int64   `json:"added_on"`
}

// TransferInfo mirrors /api/v2/transfer/info.
type TransferInfo struct {
	DLSpeed          int64  `json:"dl_info_speed"`
	DLData           int64  `json:"dl_info_data"`
	UPSpeed          int64  `json:"up_info_speed"`
	UPData           int64  `json:"up_info_data"`
	DLRateLimit      int64  `json:"dl_rate_limit"`
	UPRateLimit      int64  `json:"up_rate_limit"`
	DHTNodes         int64  `json:"dht_nodes"`
	ConnectionStatus string `json:"connection_status"`
}

// State groups used for filtering.
const (
	GroupDownloading = "downloading"
	GroupSeeding     = "seeding"
	GroupPaused      = "paused"
	GroupQueued      = "queued"
	GroupChecking    = "checking"
	GroupErrored     = "errored"
	GroupUnknown     = "unknown"
)

var stateGroups = map[string]string{
	"downloading":        GroupDownloading,
	"metaDL":             GroupDownloading,
	"forcedMetaDL":       GroupDownloading,
	"forcedDL":           GroupDownloading,
	"stalledDL":          GroupDownloading,
	"allocating":         GroupDownloading,
	"uploading":          GroupSeeding,
	"stalledUP":          GroupSeeding,
	"forcedUP":           GroupSeeding,
	"pausedDL":           GroupPaused,
	"pausedUP":           GroupPaused,
	"stoppedDL":          GroupPaused,
	"stoppedUP":          GroupPaused,
	"queuedDL":           GroupQueued,
	"queuedUP":           GroupQueued,
	"checkingDL":         GroupChecking,
	"checkingUP":         GroupChecking,
	"checkingResumeData": GroupChecking,
	"moving":             GroupChecking,
	"error":              GroupErrored,
	"missingFiles":       GroupErrored,
}

// StateGroup collapses the raw qBittorrent state into a display group.
func (t Torrent) StateGroup() string {
	if group, ok := stateGroups[strings.TrimSpace(t.State)]; ok {
		return group
	}
	return GroupUnknown
}

// Percent returns progress as 0-100.
func (t Torrent) Percent() float64 {
	switch {
	case t.Progress <= 0:
		return 0
	case t.Progress >= 1:
		return 100
	default:
		return t.Progress * 100
	}
}

// ETADuration returns the ETA, or zero when unknown.
func (t Torrent) ETADuration() time.Duration {
	if t.ETA <= 0 || t.ETA >= etaInfinity {
		return 0
	}
	return time.Duration(t.ETA) * time.Second
}

// DecodeTorrents projects raw records into Torrents, skipping any record that
// does not decode.
func DecodeTorrents(raw []json.RawMessage) []Torrent {
	out := make([]Torrent, 0, len(raw))
	for _, item := range raw {
		var t Torrent
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DecodeTransferInfo decodes a raw transfer info payload.
func DecodeTransferInfo(raw json.RawMessage) (TransferInfo, error) {
	if len(raw) == 0 {
		return TransferInfo{}, nil
	}
	var info TransferInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return TransferInfo{}, err
	}
	return info, nil
}
