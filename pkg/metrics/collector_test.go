package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/replicator/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	channels []*types.Channel
	counts   map[types.Status]int
	err      error
}

func (f *fakeSource) ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error) {
	return f.channels, f.err
}

func (f *fakeSource) CountRequestsByStatus(ctx context.Context) (map[types.Status]int, error) {
	return f.counts, f.err
}

func TestCollectorCollect(t *testing.T) {
	source := &fakeSource{
		channels: []*types.Channel{
			{ID: "1", SourceSite: "CERN", DestSite: "RAL", QueuedFiles: 3, QueuedSize: 3000},
		},
		counts: map[types.Status]int{types.StatusWaiting: 2, types.StatusDone: 5},
	}

	NewCollector(source, 0).Collect(context.Background())

	assert.Equal(t, 3.0, testutil.ToFloat64(ChannelQueuedFiles.WithLabelValues("CERN-RAL")))
	assert.Equal(t, 3000.0, testutil.ToFloat64(ChannelQueuedBytes.WithLabelValues("CERN-RAL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(RequestsTotal.WithLabelValues(string(types.StatusWaiting))))
	assert.Equal(t, 5.0, testutil.ToFloat64(RequestsTotal.WithLabelValues(string(types.StatusDone))))
}

func TestCollectorKeepsGaugesOnError(t *testing.T) {
	ObserveChannels([]*types.Channel{{ID: "9", SourceSite: "PIC", DestSite: "IN2P3", QueuedFiles: 7}})

	NewCollector(&fakeSource{err: errors.New("store closed")}, 0).Collect(context.Background())

	assert.Equal(t, 7.0, testutil.ToFloat64(ChannelQueuedFiles.WithLabelValues("PIC-IN2P3")))
}
