package types

import (
	"sort"
	"strings"
	"time"
)

// ChannelStatus is the administrative state of a channel
type ChannelStatus string

const (
	ChannelStatusActive   ChannelStatus = "Active"
	ChannelStatusInactive ChannelStatus = "Inactive"
)

// Channel represents a directed transfer link between two sites
type Channel struct {
	ID          string        `json:"id"`
	SourceSite  string        `json:"source_site"`
	DestSite    string        `json:"dest_site"`
	Status      ChannelStatus `json:"status"`
	QueuedFiles int64         `json:"queued_files"`
	QueuedSize  int64         `json:"queued_size"`
}

// Name returns the "source-dest" lookup key of the channel
func (c *Channel) Name() string {
	return ChannelName(c.SourceSite, c.DestSite)
}

// ChannelName builds the lookup key for a site pair
func ChannelName(sourceSite, destSite string) string {
	return sourceSite + "-" + destSite
}

// ChannelThroughputSample holds time-windowed observations for one channel
type ChannelThroughputSample struct {
	ChannelID       string
	Throughput      float64 // bytes per second
	Fileput         float64 // files per second
	SuccessfulFiles int64
	FailedFiles     int64
}

// SuccessRate returns the percentage of successful attempts in the window.
// A channel with no attempts is reported as fully successful.
func (s ChannelThroughputSample) SuccessRate() float64 {
	attempts := s.SuccessfulFiles + s.FailedFiles
	if attempts == 0 {
		return 100
	}
	return float64(s.SuccessfulFiles) / float64(attempts) * 100
}

// ChannelDelta is the queue growth produced by scheduling one file
type ChannelDelta struct {
	ChannelID string
	Files     int64
	Size      int64
}

// Status values shared by requests, sub-requests and files
type Status string

const (
	StatusWaiting   Status = "Waiting"
	StatusAssigned  Status = "Assigned"
	StatusScheduled Status = "Scheduled"
	StatusDone      Status = "Done"
	StatusFailed    Status = "Failed"
)

// RequestKindTransfer is the only request kind the scheduler consumes
const RequestKindTransfer = "transfer"

// NoSourceSE marks a sub-request that may use any existing replica as source
const NoSourceSE = "None"

// ReplicationRequest is a unit of work pulled from the request source
type ReplicationRequest struct {
	ID          string        `json:"id" yaml:"id"`
	Kind        string        `json:"kind" yaml:"kind"`
	Status      Status        `json:"status" yaml:"status"`
	SubRequests []*SubRequest `json:"sub_requests" yaml:"sub_requests"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
}

// SubRequest moves a set of files from a source to a set of targets
type SubRequest struct {
	SourceSE  string       `json:"source_se" yaml:"source_se"`
	TargetSE  string       `json:"target_se" yaml:"target_se"` // comma-separated
	Operation string       `json:"operation" yaml:"operation"`
	Status    Status       `json:"status" yaml:"status"`
	Files     []*FileEntry `json:"files" yaml:"files"`
}

// FileEntry is one file of a sub-request
type FileEntry struct {
	LFN    string `json:"lfn" yaml:"lfn"`
	FileID string `json:"file_id" yaml:"file_id"`
	Status Status `json:"status" yaml:"status"`
}

// TargetSEs normalizes the comma-separated target list
func (s *SubRequest) TargetSEs() []string {
	var targets []string
	for _, se := range strings.Split(s.TargetSE, ",") {
		se = strings.TrimSpace(se)
		if se != "" {
			targets = append(targets, se)
		}
	}
	return targets
}

// HasSource reports whether the sub-request pins a source SE
func (s *SubRequest) HasSource() bool {
	return s.SourceSE != "" && s.SourceSE != NoSourceSE
}

// WaitingFiles returns the files eligible for scheduling
func (s *SubRequest) WaitingFiles() []*FileEntry {
	var waiting []*FileEntry
	for _, f := range s.Files {
		if f.Status == StatusWaiting {
			waiting = append(waiting, f)
		}
	}
	return waiting
}

// RefreshStatus recomputes the sub-request status from its files
func (s *SubRequest) RefreshStatus() {
	if len(s.Files) == 0 {
		return
	}
	allDone := true
	for _, f := range s.Files {
		switch f.Status {
		case StatusWaiting:
			return
		case StatusDone:
		default:
			allDone = false
		}
	}
	if allDone {
		s.Status = StatusDone
	} else {
		s.Status = StatusScheduled
	}
}

// AggregateStatus derives the request status from its sub-requests
func (r *ReplicationRequest) AggregateStatus() Status {
	if len(r.SubRequests) == 0 {
		return r.Status
	}
	allDone := true
	for _, sub := range r.SubRequests {
		switch sub.Status {
		case StatusDone:
		case StatusScheduled:
			allDone = false
		default:
			return StatusWaiting
		}
	}
	if allDone {
		return StatusDone
	}
	return StatusScheduled
}

// HasWaitingFiles reports whether any file still needs scheduling
func (r *ReplicationRequest) HasWaitingFiles() bool {
	for _, sub := range r.SubRequests {
		if sub.Status != StatusWaiting {
			continue
		}
		if len(sub.WaitingFiles()) > 0 {
			return true
		}
	}
	return false
}

// TreeEdge describes one hop of a replication tree.
// Ancestor is empty for edges leaving an original source.
type TreeEdge struct {
	Ancestor string `json:"ancestor,omitempty"`
	SourceSE string `json:"source_se"`
	DestSE   string `json:"dest_se"`
	Strategy string `json:"strategy"`
}

// HasAncestor reports whether the edge's source is itself a hop destination
func (e TreeEdge) HasAncestor() bool {
	return e.Ancestor != ""
}

// ReplicationTree maps a channel ID to the edge routed over it
type ReplicationTree map[string]TreeEdge

// ChannelIDs returns the tree's channels ordered so that every ancestor
// precedes its descendants
func (t ReplicationTree) ChannelIDs() []string {
	ids := make([]string, 0, len(t))
	placed := make(map[string]bool, len(t))
	for len(ids) < len(t) {
		progressed := false
		for _, id := range sortedKeys(t) {
			if placed[id] {
				continue
			}
			edge := t[id]
			if edge.HasAncestor() && !placed[edge.Ancestor] {
				if _, ok := t[edge.Ancestor]; ok {
					continue
				}
			}
			ids = append(ids, id)
			placed[id] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return ids
}

// Deltas returns the queue growth caused by routing a file of the given
// size over every edge of the tree
func (t ReplicationTree) Deltas(size int64) []ChannelDelta {
	deltas := make([]ChannelDelta, 0, len(t))
	for _, id := range sortedKeys(t) {
		deltas = append(deltas, ChannelDelta{ChannelID: id, Files: 1, Size: size})
	}
	return deltas
}

func sortedKeys(t ReplicationTree) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChannelFile is a file queued on a channel
type ChannelFile struct {
	ChannelID string    `json:"channel_id"`
	FileID    string    `json:"file_id"`
	SourceSE  string    `json:"source_se"`
	SourceURL string    `json:"source_url"`
	DestSE    string    `json:"dest_se"`
	DestURL   string    `json:"dest_url"`
	Size      int64     `json:"size"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRegistration is the catalog update applied after a transfer completes
type FileRegistration struct {
	ChannelID string `json:"channel_id"`
	FileID    string `json:"file_id"`
	LFN       string `json:"lfn"`
	TargetURL string `json:"target_url"`
	DestSE    string `json:"dest_se"`
}

// FileMetadata is the catalog metadata the scheduler needs for a file
type FileMetadata struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// ReplicaResult is the outcome of a bulk replica lookup
type ReplicaResult struct {
	Successful map[string]map[string]string // lfn -> SE -> url
	Failed     map[string]string            // lfn -> reason
}

// MetadataResult is the outcome of a bulk metadata lookup
type MetadataResult struct {
	Successful map[string]FileMetadata
	Failed     map[string]string
}

// URLResult is the outcome of a bulk URL translation
type URLResult struct {
	Successful map[string]string
	Failed     map[string]string
}

// TransferRecord is one completed transfer attempt on a channel
type TransferRecord struct {
	ChannelID   string    `json:"channel_id"`
	FileID      string    `json:"file_id"`
	Bytes       int64     `json:"bytes"`
	Success     bool      `json:"success"`
	CompletedAt time.Time `json:"completed_at"`
}

// AccessMode selects which SE status is consulted
type AccessMode string

const (
	AccessRead  AccessMode = "Read"
	AccessWrite AccessMode = "Write"
)

// SEStatus is the status reported by the resource-status collaborator
type SEStatus string

const (
	SEStatusActive  SEStatus = "Active"
	SEStatusBad     SEStatus = "Bad"
	SEStatusProbing SEStatus = "Probing"
	SEStatusBanned  SEStatus = "Banned"
)

// Usable reports whether scheduling may use an SE in this status.
// Bad SEs stay usable; monitoring flags them separately.
func (s SEStatus) Usable() bool {
	return s == SEStatusActive || s == SEStatusBad
}

// ChannelSite extracts the channel key component of a site name: the second
// dot-separated component ("LCG.CERN.ch" -> "CERN"), or the name itself
func ChannelSite(site string) string {
	parts := strings.Split(site, ".")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return site
}
