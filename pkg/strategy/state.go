package strategy

import (
	"sort"

	"github.com/cuemby/replicator/pkg/types"
)

// ChannelState is the channel snapshot a scheduling cycle works against.
// Throughput samples are frozen; queue counters move only through Apply and Revert.
type ChannelState struct {
	channels map[string]*types.Channel
	byName   map[string]string
	samples  map[string]types.ChannelThroughputSample
}

// NewChannelState copies the channel table and samples into a new snapshot
func NewChannelState(channels []*types.Channel, samples map[string]types.ChannelThroughputSample) *ChannelState {
	s := &ChannelState{
		channels: make(map[string]*types.Channel, len(channels)),
		byName:   make(map[string]string, len(channels)),
		samples:  make(map[string]types.ChannelThroughputSample, len(samples)),
	}
	for _, ch := range channels {
		c := *ch
		s.channels[c.ID] = &c
		s.byName[c.Name()] = c.ID
	}
	for id, sample := range samples {
		s.samples[id] = sample
	}
	return s
}

// Channel returns a copy of the channel with the given ID
func (s *ChannelState) Channel(id string) (types.Channel, bool) {
	ch, ok := s.channels[id]
	if !ok {
		return types.Channel{}, false
	}
	return *ch, true
}

// Lookup returns the channel connecting two sites
func (s *ChannelState) Lookup(sourceSite, destSite string) (types.Channel, bool) {
	id, ok := s.byName[types.ChannelName(sourceSite, destSite)]
	if !ok {
		return types.Channel{}, false
	}
	return s.Channel(id)
}

// Sample returns the throughput sample of a channel; a channel without
// observations gets an empty sample
func (s *ChannelState) Sample(id string) types.ChannelThroughputSample {
	sample, ok := s.samples[id]
	if !ok {
		return types.ChannelThroughputSample{ChannelID: id}
	}
	return sample
}

// Channels returns copies of all channels ordered by ID
func (s *ChannelState) Channels() []types.Channel {
	out := make([]types.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply adds queue deltas to the snapshot
func (s *ChannelState) Apply(deltas []types.ChannelDelta) {
	for _, d := range deltas {
		if ch, ok := s.channels[d.ChannelID]; ok {
			ch.QueuedFiles += d.Files
			ch.QueuedSize += d.Size
		}
	}
}

// Revert undoes previously applied deltas
func (s *ChannelState) Revert(deltas []types.ChannelDelta) {
	for _, d := range deltas {
		if ch, ok := s.channels[d.ChannelID]; ok {
			ch.QueuedFiles -= d.Files
			ch.QueuedSize -= d.Size
		}
	}
}
