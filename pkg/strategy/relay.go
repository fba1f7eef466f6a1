package strategy

import (
	"context"
	"math"
	"sort"

	"github.com/cuemby/replicator/pkg/types"
)

// hopState is the best known path to a site during the relay search
type hopState struct {
	cost     float64
	origin   string
	firstHop channelCost
	hops     int
}

// relay is used when no unused channel reaches a remaining target directly.
// It runs a shortest-path search over the site graph from every available
// SE and returns the first hop of the cheapest path, landing on a relay SE
// that can accept the file. Paths may only pass through sites with such an SE.
// SEs in holding already have a replica and are never chosen as relays.
func (h *Handler) relay(
	ctx context.Context,
	costs map[string]channelCost,
	tree types.ReplicationTree,
	remaining, available []string,
	holding map[string]string,
	primary map[string]bool,
	pathCost map[string]float64,
	sigma float64,
	cumulative bool,
	sitesOf func(string) []string,
) (candidate, bool) {
	adj := make(map[string][]channelCost)
	for _, c := range costs {
		if math.IsInf(c.timeToStart, 1) || c.sourceSite == c.destSite {
			continue
		}
		if _, used := tree[c.id]; used {
			continue
		}
		adj[c.sourceSite] = append(adj[c.sourceSite], c)
	}
	for site := range adj {
		edges := adj[site]
		sort.Slice(edges, func(i, j int) bool { return edges[i].id < edges[j].id })
	}

	targetSites := make(map[string]bool)
	for _, se := range remaining {
		for _, site := range sitesOf(se) {
			targetSites[site] = true
		}
	}

	taken := make(map[string]bool, len(available)+len(holding))
	for _, se := range available {
		taken[se] = true
	}
	for se := range holding {
		taken[se] = true
	}
	relays := make(map[string]string)
	relayAt := func(site string) string {
		if se, ok := relays[site]; ok {
			return se
		}
		relays[site] = ""
		ses, err := h.topology.GetSEsAtSite(ctx, site)
		if err != nil {
			h.logger.Warn().Err(err).Str("site", site).Msg("Failed to list SEs at site")
			return ""
		}
		sort.Strings(ses)
		var free []string
		for _, se := range ses {
			if !taken[se] {
				free = append(free, se)
			}
		}
		if active := h.activeSEs(ctx, free, types.AccessWrite); len(active) > 0 {
			relays[site] = active[0]
		}
		return relays[site]
	}

	best := make(map[string]hopState)
	for _, se := range available {
		start := 0.0
		if cumulative {
			start = pathCost[se]
		}
		for _, site := range sitesOf(se) {
			if cur, ok := best[site]; !ok || start < cur.cost {
				best[site] = hopState{cost: start, origin: se}
			}
		}
	}

	visited := make(map[string]bool)
	for {
		site, ok := cheapestUnvisited(best, visited)
		if !ok {
			return candidate{}, false
		}
		visited[site] = true
		cur := best[site]

		if cur.hops >= 2 && targetSites[site] {
			first := cur.firstHop
			cost := first.timeToStart
			if !primary[cur.origin] {
				cost += sigma
			}
			if cumulative {
				cost += pathCost[cur.origin]
			}
			return candidate{
				channelID: first.id,
				sourceSE:  cur.origin,
				destSE:    relayAt(first.destSite),
				cost:      cost,
			}, true
		}
		if cur.hops > 0 && (targetSites[site] || relayAt(site) == "") {
			continue
		}

		for _, e := range adj[site] {
			if visited[e.destSite] {
				continue
			}
			step := e.timeToStart
			if cur.hops > 0 || !primary[cur.origin] {
				step += sigma
			}
			next := hopState{cost: cur.cost + step, origin: cur.origin, firstHop: cur.firstHop, hops: cur.hops + 1}
			if cur.hops == 0 {
				next.firstHop = e
			}
			if known, ok := best[e.destSite]; ok && known.cost <= next.cost {
				continue
			}
			best[e.destSite] = next
		}
	}
}

func cheapestUnvisited(best map[string]hopState, visited map[string]bool) (string, bool) {
	var (
		site  string
		found bool
	)
	for s, st := range best {
		if visited[s] {
			continue
		}
		if !found || st.cost < best[site].cost || (st.cost == best[site].cost && s < site) {
			site = s
			found = true
		}
	}
	return site, found
}
