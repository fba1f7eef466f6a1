package strategy

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/replicator/pkg/log"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/rs/zerolog"
)

// Topology resolves storage elements to sites and reports their status
type Topology interface {
	GetSitesForSE(ctx context.Context, se string) ([]string, error)
	GetStorageElementStatus(ctx context.Context, se string, mode types.AccessMode) (types.SEStatus, error)
	// GetSEsAtSite lists the SEs whose channel site key equals site.
	GetSEsAtSite(ctx context.Context, site string) ([]string, error)
}

// Rand is the random source used for tie-breaks
type Rand interface {
	IntN(n int) int
}

// Option configures a Handler
type Option func(*Handler)

// WithRand injects the tie-break random source
func WithRand(r Rand) Option {
	return func(h *Handler) {
		h.rng = r
	}
}

// WithLogger overrides the handler's logger
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// Handler computes replication trees from a channel snapshot
type Handler struct {
	cfg      Config
	topology Topology
	rng      Rand
	logger   zerolog.Logger

	mu   sync.Mutex
	next int
}

// NewHandler creates a strategy handler
func NewHandler(cfg Config, topology Topology, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.KindConfiguration, "new handler", "", err)
	}
	seed := uint64(time.Now().UnixNano())
	h := &Handler{
		cfg:      cfg,
		topology: topology,
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
		logger:   log.WithComponent("strategy"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the handler configuration
func (h *Handler) Config() Config {
	return h.cfg
}

// NextStrategy returns the next active strategy in round-robin order
func (h *Handler) NextStrategy() Spec {
	h.mu.Lock()
	defer h.mu.Unlock()

	spec := h.cfg.ActiveStrategies[h.next]
	h.next = (h.next + 1) % len(h.cfg.ActiveStrategies)
	return spec
}

// TreeRequest is the input of one tree computation
type TreeRequest struct {
	// SourceSE pins the source; empty or "None" means any replica may be used.
	SourceSE  string
	TargetSEs []string
	// Replicas maps SE name to replica URL.
	Replicas map[string]string
	Size     int64
	// Strategy pins the strategy; nil selects one round-robin.
	Strategy *Spec
}

// Decision is the result of one tree computation
type Decision struct {
	Strategy Spec
	Tree     types.ReplicationTree
	// Deltas is the queue growth the caller applies to its ChannelState.
	Deltas []types.ChannelDelta
	// Unreachable lists targets no usable channel could reach.
	Unreachable []string
}

// Complete reports whether every target is reached by the tree
func (d *Decision) Complete() bool {
	return len(d.Unreachable) == 0 && len(d.Tree) > 0
}

// DetermineReplicationTree computes the tree moving one file to all targets.
// The state is read, never modified: the returned deltas must be applied by
// the caller before the next call of the same cycle.
func (h *Handler) DetermineReplicationTree(ctx context.Context, state *ChannelState, req TreeRequest) (*Decision, error) {
	if len(req.TargetSEs) == 0 {
		return nil, types.Errorf(types.KindConfiguration, "determine tree", "", "no target SEs")
	}

	var spec Spec
	if req.Strategy != nil {
		spec = *req.Strategy
	} else {
		spec = h.NextStrategy()
	}

	targets := append([]string(nil), req.TargetSEs...)
	sourceSE := req.SourceSE
	if sourceSE == types.NoSourceSE {
		sourceSE = ""
	}

	var (
		tree        types.ReplicationTree
		unreachable []string
		err         error
	)
	switch spec.Name {
	case Simple:
		if _, ok := req.Replicas[sourceSE]; !ok || sourceSE == "" {
			return nil, types.Errorf(types.KindConfiguration, "determine tree", req.SourceSE, "file does not exist at specified source SE")
		}
		tree, unreachable = h.simple(ctx, state, sourceSE, targets)
	case Swarm:
		tree, unreachable, err = h.swarm(ctx, state, targets, req.Replicas)
	case DynamicThroughput, MinimiseTotalWait:
		var sources []string
		if sourceSE != "" {
			if _, ok := req.Replicas[sourceSE]; !ok {
				return nil, types.Errorf(types.KindConfiguration, "determine tree", req.SourceSE, "file does not exist at specified source SE")
			}
			sources = []string{sourceSE}
		} else {
			sources = h.activeSEs(ctx, sortedSEs(req.Replicas), types.AccessRead)
		}
		if len(sources) == 0 {
			return nil, types.Errorf(types.KindNoActiveChannel, "determine tree", "", "no active source replica")
		}
		tree, unreachable = h.multiHop(ctx, state, spec, sources, targets, req.Replicas)
	default:
		return nil, types.Errorf(types.KindConfiguration, "determine tree", string(spec.Name), "unsupported strategy")
	}
	if err != nil {
		return nil, err
	}

	if len(tree) == 0 {
		return nil, types.Errorf(types.KindNoActiveChannel, "determine tree", strings.Join(targets, ","), "no usable channel with strategy %s", spec)
	}

	return &Decision{
		Strategy:    spec,
		Tree:        tree,
		Deltas:      tree.Deltas(req.Size),
		Unreachable: unreachable,
	}, nil
}

// channelCost is the time-to-start of one channel keyed by channel name
type channelCost struct {
	id          string
	sourceSite  string
	destSite    string
	timeToStart float64
}

// timeToStart projects when a new file would start on every channel
func (h *Handler) timeToStart(state *ChannelState) map[string]channelCost {
	costs := make(map[string]channelCost)
	for _, ch := range state.Channels() {
		costs[ch.Name()] = channelCost{
			id:          ch.ID,
			sourceSite:  ch.SourceSite,
			destSite:    ch.DestSite,
			timeToStart: h.channelTimeToStart(state, ch),
		}
	}
	return costs
}

func (h *Handler) channelTimeToStart(state *ChannelState, ch types.Channel) float64 {
	if ch.Status != types.ChannelStatusActive {
		return math.Inf(1)
	}
	sample := state.Sample(ch.ID)
	if sample.SuccessRate() < h.cfg.AcceptableFailureRate {
		return math.Inf(1)
	}

	var fileTimeToStart, throughputTimeToStart float64
	if sample.Fileput > 0 {
		fileTimeToStart = float64(ch.QueuedFiles) / sample.Fileput
	}
	if sample.Throughput > 0 {
		throughputTimeToStart = float64(ch.QueuedSize) / sample.Throughput
	}

	if h.cfg.SchedulingType == SchedulingThroughput {
		return throughputTimeToStart
	}
	return fileTimeToStart
}

// activeSEs keeps the SEs whose status permits the access mode
func (h *Handler) activeSEs(ctx context.Context, ses []string, mode types.AccessMode) []string {
	var active []string
	for _, se := range ses {
		status, err := h.topology.GetStorageElementStatus(ctx, se, mode)
		if err != nil {
			h.logger.Warn().Err(err).Str("se", se).Msg("Failed to get SE status")
			continue
		}
		if status.Usable() {
			active = append(active, se)
		}
	}
	return active
}

// channelSites returns the channel site names for an SE: the second
// dot-separated component of each site ("LCG.CERN.ch" -> "CERN")
func (h *Handler) channelSites(ctx context.Context, se string) []string {
	sites, err := h.topology.GetSitesForSE(ctx, se)
	if err != nil {
		h.logger.Warn().Err(err).Str("se", se).Msg("Failed to get sites for SE")
		return nil
	}
	seen := make(map[string]bool, len(sites))
	var out []string
	for _, site := range sites {
		name := types.ChannelSite(site)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func sortedSEs(replicas map[string]string) []string {
	ses := make([]string, 0, len(replicas))
	for se := range replicas {
		ses = append(ses, se)
	}
	sort.Strings(ses)
	return ses
}
