package metrics

import (
	"context"
	"time"

	"github.com/cuemby/replicator/pkg/log"
	"github.com/cuemby/replicator/pkg/types"
)

// Source is the read side of the store the collector samples
type Source interface {
	ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error)
	CountRequestsByStatus(ctx context.Context) (map[types.Status]int, error)
}

// Collector periodically samples queue and request gauges from the store
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the store once
func (c *Collector) Collect(ctx context.Context) {
	c.collectChannelMetrics(ctx)
	c.collectRequestMetrics(ctx)
}

func (c *Collector) collectChannelMetrics(ctx context.Context) {
	channels, err := c.source.ListChannelsWithQueueState(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to collect channel metrics")
		return
	}
	ObserveChannels(channels)
}

func (c *Collector) collectRequestMetrics(ctx context.Context) {
	counts, err := c.source.CountRequestsByStatus(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to collect request metrics")
		return
	}
	RequestsTotal.Reset()
	for status, n := range counts {
		RequestsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

// ObserveChannels sets the queue gauges from a channel listing
func ObserveChannels(channels []*types.Channel) {
	for _, ch := range channels {
		ChannelQueuedFiles.WithLabelValues(ch.Name()).Set(float64(ch.QueuedFiles))
		ChannelQueuedBytes.WithLabelValues(ch.Name()).Set(float64(ch.QueuedSize))
	}
}
