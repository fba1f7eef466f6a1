package strategy

import (
	"context"
	"math"

	"github.com/cuemby/replicator/pkg/types"
)

// simple connects the source directly to every target
func (h *Handler) simple(ctx context.Context, state *ChannelState, sourceSE string, targets []string) (types.ReplicationTree, []string) {
	tree := make(types.ReplicationTree)
	var unreachable []string
	costs := h.timeToStart(state)
	sourceSites := h.channelSites(ctx, sourceSE)

	for _, destSE := range targets {
		var chosen, fallback string
		for _, destSite := range h.channelSites(ctx, destSE) {
			for _, sourceSite := range sourceSites {
				cost, ok := costs[types.ChannelName(sourceSite, destSite)]
				if !ok {
					continue
				}
				if _, used := tree[cost.id]; used {
					continue
				}
				if math.IsInf(cost.timeToStart, 1) {
					if fallback == "" {
						fallback = cost.id
					}
					continue
				}
				if chosen == "" {
					chosen = cost.id
				}
			}
		}
		if chosen == "" {
			chosen = fallback
		}
		if chosen == "" {
			h.logger.Warn().Str("source_se", sourceSE).Str("dest_se", destSE).Msg("No channel defined between source and target, skipping target")
			unreachable = append(unreachable, destSE)
			continue
		}
		tree[chosen] = types.TreeEdge{SourceSE: sourceSE, DestSE: destSE, Strategy: string(Simple)}
	}
	return tree, unreachable
}

// candidate is one possible edge of a tree under construction
type candidate struct {
	channelID string
	sourceSE  string
	destSE    string
	cost      float64
}

// swarm routes every target from the replica with the earliest start
func (h *Handler) swarm(ctx context.Context, state *ChannelState, targets []string, replicas map[string]string) (types.ReplicationTree, []string, error) {
	sources := h.activeSEs(ctx, sortedSEs(replicas), types.AccessRead)
	if len(sources) == 0 {
		return nil, nil, types.Errorf(types.KindNoActiveChannel, "swarm", "", "no active source replica")
	}

	costs := h.timeToStart(state)
	tree := make(types.ReplicationTree)
	var unreachable []string

	for _, destSE := range targets {
		best := math.Inf(1)
		var tied []candidate
		for _, destSite := range h.channelSites(ctx, destSE) {
			for _, sourceSE := range sources {
				for _, sourceSite := range h.channelSites(ctx, sourceSE) {
					cost, ok := costs[types.ChannelName(sourceSite, destSite)]
					if !ok || math.IsInf(cost.timeToStart, 1) {
						continue
					}
					if _, used := tree[cost.id]; used {
						continue
					}
					c := candidate{channelID: cost.id, sourceSE: sourceSE, destSE: destSE, cost: cost.timeToStart}
					switch {
					case c.cost < best:
						best = c.cost
						tied = []candidate{c}
					case c.cost == best:
						tied = append(tied, c)
					}
				}
			}
		}
		if len(tied) == 0 {
			unreachable = append(unreachable, destSE)
			continue
		}
		chosen := h.pick(tied)
		tree[chosen.channelID] = types.TreeEdge{SourceSE: chosen.sourceSE, DestSE: chosen.destSE, Strategy: string(Swarm)}
	}
	return tree, unreachable, nil
}

// multiHop grows a tree greedily until every target is reached. Each
// reached target becomes a source for the remaining ones; when no channel
// reaches a target directly the file is relayed through an intermediate site.
//
// MinimiseTotalWait costs an edge at its channel's time-to-start, plus the
// hop sigma when the edge leaves an intermediate SE. DynamicThroughput adds
// the full path cost of the edge's source, so sigma accumulates with depth.
func (h *Handler) multiHop(ctx context.Context, state *ChannelState, spec Spec, sources, targets []string, replicas map[string]string) (types.ReplicationTree, []string) {
	costs := h.timeToStart(state)
	sigma := spec.Sigma(h.cfg.HopSigma)
	cumulative := spec.Name == DynamicThroughput

	primary := make(map[string]bool, len(sources))
	for _, se := range sources {
		primary[se] = true
	}
	available := append([]string(nil), sources...)
	remaining := make([]string, 0, len(targets))
	for _, se := range targets {
		if !primary[se] {
			remaining = append(remaining, se)
		}
	}

	tree := make(types.ReplicationTree)
	pathCost := make(map[string]float64)
	reachedBy := make(map[string]string)
	sites := make(map[string][]string)
	sitesOf := func(se string) []string {
		if s, ok := sites[se]; ok {
			return s
		}
		s := h.channelSites(ctx, se)
		sites[se] = s
		return s
	}

	for len(remaining) > 0 {
		chosen, ok := h.nextEdge(costs, tree, remaining, available, primary, pathCost, sigma, cumulative, sitesOf)
		if !ok {
			chosen, ok = h.relay(ctx, costs, tree, remaining, available, replicas, primary, pathCost, sigma, cumulative, sitesOf)
			if !ok || chosen.destSE == "" {
				break
			}
		}

		edge := types.TreeEdge{SourceSE: chosen.sourceSE, DestSE: chosen.destSE, Strategy: spec.String()}
		if !primary[chosen.sourceSE] {
			edge.Ancestor = reachedBy[chosen.sourceSE]
		}
		tree[chosen.channelID] = edge
		pathCost[chosen.destSE] = chosen.cost
		reachedBy[chosen.destSE] = chosen.channelID

		available = append(available, chosen.destSE)
		remaining = removeSE(remaining, chosen.destSE)
	}
	return tree, remaining
}

// nextEdge scans every (available source, remaining target) pair for the
// cheapest unused channel. A same-site transfer wins immediately.
func (h *Handler) nextEdge(
	costs map[string]channelCost,
	tree types.ReplicationTree,
	remaining, available []string,
	primary map[string]bool,
	pathCost map[string]float64,
	sigma float64,
	cumulative bool,
	sitesOf func(string) []string,
) (candidate, bool) {
	best := math.Inf(1)
	var tied []candidate

	for _, destSE := range remaining {
		for _, destSite := range sitesOf(destSE) {
			for _, sourceSE := range available {
				for _, sourceSite := range sitesOf(sourceSE) {
					cost, ok := costs[types.ChannelName(sourceSite, destSite)]
					if !ok {
						continue
					}
					if _, used := tree[cost.id]; used {
						continue
					}
					if math.IsInf(cost.timeToStart, 1) {
						continue
					}
					if sourceSite == destSite {
						return candidate{channelID: cost.id, sourceSE: sourceSE, destSE: destSE, cost: pathCost[sourceSE]}, true
					}

					total := cost.timeToStart
					if !primary[sourceSE] {
						total += sigma
					}
					if cumulative {
						total += pathCost[sourceSE]
					}

					c := candidate{channelID: cost.id, sourceSE: sourceSE, destSE: destSE, cost: total}
					switch {
					case total < best:
						best = total
						tied = []candidate{c}
					case total == best:
						tied = append(tied, c)
					}
				}
			}
		}
	}

	if len(tied) == 0 {
		return candidate{}, false
	}
	return h.pick(tied), true
}

// pick draws one of the tied candidates uniformly
func (h *Handler) pick(tied []candidate) candidate {
	if len(tied) == 1 {
		return tied[0]
	}
	h.mu.Lock()
	i := h.rng.IntN(len(tied))
	h.mu.Unlock()
	return tied[i]
}

func removeSE(ses []string, se string) []string {
	out := ses[:0]
	for _, s := range ses {
		if s != se {
			out = append(out, s)
		}
	}
	return out
}
