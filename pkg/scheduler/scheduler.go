package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/replicator/pkg/events"
	"github.com/cuemby/replicator/pkg/log"
	"github.com/cuemby/replicator/pkg/metrics"
	"github.com/cuemby/replicator/pkg/strategy"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultObservationWindow is the throughput window read at the start of a cycle
const DefaultObservationWindow = time.Hour

// Config holds the driver settings
type Config struct {
	Interval          time.Duration
	ObservationWindow time.Duration
	Strategy          strategy.Config
	// Seed fixes the tie-break random source; zero seeds from the clock.
	Seed uint64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithBroker publishes scheduling events to b
func WithBroker(b *events.Broker) Option {
	return func(s *Scheduler) {
		s.broker = b
	}
}

// WithHandlerOptions passes options through to the strategy handler
func WithHandlerOptions(opts ...strategy.Option) Option {
	return func(s *Scheduler) {
		s.handlerOpts = append(s.handlerOpts, opts...)
	}
}

// Scheduler drains pending replication requests and places their files on
// channel queues
type Scheduler struct {
	cfg         Config
	deps        Dependencies
	handler     *strategy.Handler
	handlerOpts []strategy.Option
	broker      *events.Broker
	logger      zerolog.Logger

	mu       sync.Mutex
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config, deps Dependencies, opts ...Option) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.ObservationWindow <= 0 {
		cfg.ObservationWindow = DefaultObservationWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	handlerOpts := []strategy.Option{}
	if cfg.Seed != 0 {
		handlerOpts = append(handlerOpts, strategy.WithRand(rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))))
	}
	handlerOpts = append(handlerOpts, s.handlerOpts...)

	handler, err := strategy.NewHandler(cfg.Strategy, deps.Topology, handlerOpts...)
	if err != nil {
		return nil, err
	}
	s.handler = handler
	return s, nil
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

// Stop stops the scheduler and waits for a running cycle to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.schedule(ctx)
	for {
		select {
		case <-ticker.C:
			s.schedule(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// schedule runs one cycle and records its outcome
func (s *Scheduler) schedule(ctx context.Context) {
	report, err := s.RunCycle(ctx)
	metrics.ObserveError(metrics.ComponentScheduler, err)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduling cycle failed")
		return
	}
	s.logger.Info().
		Int("requests", report.Requests).
		Int("scheduled", report.FilesScheduled).
		Int("done", report.FilesDone).
		Int("skipped", report.FilesSkipped).
		Dur("duration", report.Duration).
		Msg("Scheduling cycle completed")
}

// CycleReport summarizes one scheduling cycle
type CycleReport struct {
	Requests        int
	FilesScheduled  int
	FilesDone       int
	FilesSkipped    int
	PersistFailures int
	Duration        time.Duration
}

// RunCycle drains the pending transfer requests once. It fails only when the
// channel snapshot cannot be loaded; every later failure is contained to the
// file or request it concerns.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)

	state, err := s.loadState(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	report := &CycleReport{}
	seen := make(map[string]bool)
	for ctx.Err() == nil {
		req, err := s.deps.Requests.FetchNextPendingRequest(ctx, types.RequestKindTransfer)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to fetch pending request")
			break
		}
		if req == nil {
			break
		}
		if seen[req.ID] {
			// Already processed this cycle; hand it back untouched so it
			// waits for the next cycle instead of staying Assigned.
			s.persistRequest(ctx, req)
			break
		}
		seen[req.ID] = true
		report.Requests++

		s.processRequest(ctx, state, req, report)
		s.persistRequest(ctx, req)
		metrics.RequestsProcessed.Inc()
	}

	metrics.ObserveChannels(channelPointers(state.Channels()))
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	report.Duration = timer.Duration()

	s.publish(events.EventCycleCompleted, fmt.Sprintf("%d requests processed", report.Requests), map[string]string{
		"requests":  fmt.Sprint(report.Requests),
		"scheduled": fmt.Sprint(report.FilesScheduled),
		"skipped":   fmt.Sprint(report.FilesSkipped),
	})
	return report, nil
}

// loadState freezes the channel table and throughput samples for the cycle
func (s *Scheduler) loadState(ctx context.Context) (*strategy.ChannelState, error) {
	channels, err := s.deps.Channels.ListChannelsWithQueueState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	samples, err := s.deps.Channels.GetObservedThroughput(ctx, s.cfg.ObservationWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel throughput: %w", err)
	}
	return strategy.NewChannelState(channels, samples), nil
}

// processRequest schedules the waiting files of every waiting sub-request
func (s *Scheduler) processRequest(ctx context.Context, state *strategy.ChannelState, req *types.ReplicationRequest, report *CycleReport) {
	logger := log.WithRequestID(req.ID)
	logger.Debug().Int("sub_requests", len(req.SubRequests)).Msg("Processing request")

	for i, sub := range req.SubRequests {
		if sub.Status != types.StatusWaiting {
			continue
		}
		s.processSubRequest(ctx, state, req.ID, sub, report, logger.With().Int("sub_request", i).Logger())
		sub.RefreshStatus()
	}
	req.Status = req.AggregateStatus()
	req.UpdatedAt = time.Now()
}

// processSubRequest resolves the sub-request's files and schedules them in
// LFN order so that queue growth within the cycle is reproducible
func (s *Scheduler) processSubRequest(ctx context.Context, state *strategy.ChannelState, requestID string, sub *types.SubRequest, report *CycleReport, logger zerolog.Logger) {
	targets := sub.TargetSEs()
	if len(targets) == 0 {
		logger.Warn().Msg("Sub-request has no target SEs")
		return
	}

	var pinned *strategy.Spec
	if sub.Operation != "" {
		spec, err := strategy.Parse(sub.Operation)
		if err == nil {
			pinned = &spec
		} else {
			logger.Debug().Str("operation", sub.Operation).Msg("Operation is not a strategy, selecting automatically")
		}
	}

	files := sub.WaitingFiles()
	if len(files) == 0 {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].LFN < files[j].LFN })
	lfns := make([]string, len(files))
	for i, f := range files {
		lfns[i] = f.LFN
	}

	replicas, err := s.deps.Replicas.GetReplicas(ctx, lfns)
	if err != nil {
		logger.Error().Err(types.NewError(types.KindResolution, "get replicas", "", err)).Msg("Failed to resolve replicas")
		s.skipAll(requestID, files, "resolution", report)
		return
	}
	metadata, err := s.deps.Replicas.GetFileMetadata(ctx, lfns)
	if err != nil {
		logger.Error().Err(types.NewError(types.KindResolution, "get file metadata", "", err)).Msg("Failed to resolve file metadata")
		s.skipAll(requestID, files, "resolution", report)
		return
	}

	for _, file := range files {
		if ctx.Err() != nil {
			return
		}
		s.processFile(ctx, state, requestID, sub, file, targets, pinned, replicas, metadata, report)
	}
}

// processFile decides and persists the tree of one file
func (s *Scheduler) processFile(
	ctx context.Context,
	state *strategy.ChannelState,
	requestID string,
	sub *types.SubRequest,
	file *types.FileEntry,
	targets []string,
	pinned *strategy.Spec,
	replicas *types.ReplicaResult,
	metadata *types.MetadataResult,
	report *CycleReport,
) {
	logger := log.WithLFN(file.LFN).With().Str("request_id", requestID).Logger()

	if reason, failed := replicas.Failed[file.LFN]; failed {
		logger.Warn().Str("reason", reason).Msg("Failed to get replicas for file")
		s.skip(requestID, file, "resolution", report)
		return
	}
	if reason, failed := metadata.Failed[file.LFN]; failed {
		logger.Warn().Str("reason", reason).Msg("Failed to get metadata for file")
		s.skip(requestID, file, "resolution", report)
		return
	}
	fileReplicas, ok := replicas.Successful[file.LFN]
	if !ok || len(fileReplicas) == 0 {
		logger.Warn().Msg("File has no replicas")
		s.skip(requestID, file, "resolution", report)
		return
	}
	meta, ok := metadata.Successful[file.LFN]
	if !ok {
		logger.Warn().Msg("File has no metadata")
		s.skip(requestID, file, "resolution", report)
		return
	}

	var missing []string
	for _, se := range targets {
		if _, present := fileReplicas[se]; !present {
			missing = append(missing, se)
		}
	}
	if len(missing) == 0 {
		file.Status = types.StatusDone
		report.FilesDone++
		metrics.FilesDone.Inc()
		s.publish(events.EventFileDone, "file present at all targets", map[string]string{"request_id": requestID, "lfn": file.LFN})
		return
	}

	sourceSE := ""
	if sub.HasSource() {
		sourceSE = sub.SourceSE
	}
	decision, err := s.handler.DetermineReplicationTree(ctx, state, strategy.TreeRequest{
		SourceSE:  sourceSE,
		TargetSEs: missing,
		Replicas:  fileReplicas,
		Size:      meta.Size,
		Strategy:  pinned,
	})
	if err != nil {
		reason := "configuration"
		if types.IsKind(err, types.KindNoActiveChannel) {
			reason = "no_channel"
		}
		logger.Warn().Err(err).Msg("Failed to determine replication tree")
		s.skip(requestID, file, reason, report)
		return
	}
	if !decision.Complete() {
		logger.Warn().
			Err(types.Errorf(types.KindNoActiveChannel, "determine tree", file.LFN, "no usable channel to %v", decision.Unreachable)).
			Msg("Replication tree does not reach every target")
		s.skip(requestID, file, "no_channel", report)
		return
	}

	state.Apply(decision.Deltas)
	if err := s.persistTree(ctx, file, meta.Size, fileReplicas, decision); err != nil {
		state.Revert(decision.Deltas)
		if types.IsKind(err, types.KindResolution) {
			logger.Warn().Err(err).Msg("Failed to resolve transfer URLs, file left waiting")
			s.skip(requestID, file, "resolution", report)
			return
		}
		logger.Error().Err(err).Msg("Failed to persist replication tree, file left waiting")
		report.PersistFailures++
		metrics.PersistFailures.Inc()
		s.skip(requestID, file, "persist", report)
		return
	}

	file.Status = types.StatusScheduled
	report.FilesScheduled++
	metrics.FilesScheduled.Inc()
	for range decision.Tree {
		metrics.TreeEdges.WithLabelValues(string(decision.Strategy.Name)).Inc()
	}
	logger.Info().
		Str("strategy", decision.Strategy.String()).
		Strs("channels", decision.Tree.ChannelIDs()).
		Msg("File scheduled")
	s.publish(events.EventFileScheduled, "file scheduled", map[string]string{
		"request_id": requestID,
		"lfn":        file.LFN,
		"strategy":   decision.Strategy.String(),
	})
}

// transferURLs are the resolved endpoints of one tree edge
type transferURLs struct {
	source string
	dest   string
}

// resolveURLs turns every edge of the tree into concrete transfer URLs.
// An edge leaving an existing replica reads from that replica; an edge
// leaving a hop destination reads from where the ancestor writes.
func (s *Scheduler) resolveURLs(ctx context.Context, lfn string, replicas map[string]string, tree types.ReplicationTree) (map[string]transferURLs, error) {
	urls := make(map[string]transferURLs, len(tree))
	for _, id := range tree.ChannelIDs() {
		edge := tree[id]

		dest, err := s.deps.Topology.GetCurrentURL(ctx, edge.DestSE, lfn)
		if err != nil {
			return nil, types.NewError(types.KindResolution, "get current url", edge.DestSE, err)
		}

		var source string
		if edge.HasAncestor() {
			source, err = s.deps.Topology.GetCurrentURL(ctx, edge.SourceSE, lfn)
			if err != nil {
				return nil, types.NewError(types.KindResolution, "get current url", edge.SourceSE, err)
			}
		} else {
			pfn, ok := replicas[edge.SourceSE]
			if !ok || pfn == "" {
				return nil, types.Errorf(types.KindResolution, "resolve source", edge.SourceSE, "no replica of %s at source SE", lfn)
			}
			source = s.replicaURL(ctx, pfn, edge.DestSE)
		}
		urls[id] = transferURLs{source: source, dest: dest}
	}
	return urls, nil
}

// replicaURL translates a stored replica for the destination's protocol and
// falls back to the replica as stored
func (s *Scheduler) replicaURL(ctx context.Context, pfn, destSE string) string {
	res, err := s.deps.Replicas.GetPfnForProtocol(ctx, []string{pfn}, destSE)
	if err != nil {
		s.logger.Debug().Err(err).Str("pfn", pfn).Msg("Failed to translate replica, using it unmodified")
		return pfn
	}
	if url, ok := res.Successful[pfn]; ok && url != "" {
		return url
	}
	return pfn
}

// persistTree queues the file on every channel of the tree. A failed write
// removes the queue entries already added so no channel keeps a partial tree.
func (s *Scheduler) persistTree(ctx context.Context, file *types.FileEntry, size int64, replicas map[string]string, decision *strategy.Decision) error {
	urls, err := s.resolveURLs(ctx, file.LFN, replicas, decision.Tree)
	if err != nil {
		return err
	}

	var added []string
	rollback := func() {
		for _, id := range added {
			if err := s.deps.Channels.RemoveFileFromChannel(ctx, id, file.FileID); err != nil {
				logger := log.WithChannelID(id)
				logger.Error().Err(err).Str("file_id", file.FileID).Msg("Failed to roll back channel queue entry")
			}
		}
	}

	now := time.Now()
	for _, id := range decision.Tree.ChannelIDs() {
		edge := decision.Tree[id]
		u := urls[id]

		err := s.deps.Channels.AddFileToChannel(ctx, types.ChannelFile{
			ChannelID: id,
			FileID:    file.FileID,
			SourceSE:  edge.SourceSE,
			SourceURL: u.source,
			DestSE:    edge.DestSE,
			DestURL:   u.dest,
			Size:      size,
			Status:    types.StatusWaiting,
			CreatedAt: now,
		})
		if err != nil {
			rollback()
			return types.NewError(types.KindPersist, "add file to channel", id, err)
		}
		added = append(added, id)

		err = s.deps.Channels.AddFileRegistration(ctx, types.FileRegistration{
			ChannelID: id,
			FileID:    file.FileID,
			LFN:       file.LFN,
			TargetURL: u.dest,
			DestSE:    edge.DestSE,
		})
		if err != nil {
			rollback()
			return types.NewError(types.KindPersist, "add file registration", id, err)
		}
	}

	if err := s.deps.Channels.AddReplicationTree(ctx, file.FileID, decision.Tree); err != nil {
		s.logger.Warn().Err(err).Str("file_id", file.FileID).Msg("Failed to store replication tree")
	}
	return nil
}

// persistRequest writes the request body back whatever the per-file outcome
func (s *Scheduler) persistRequest(ctx context.Context, req *types.ReplicationRequest) {
	logger := log.WithRequestID(req.ID)
	body, err := json.Marshal(req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode request")
		return
	}
	if err := s.deps.Requests.PersistRequest(ctx, req.ID, body); err != nil {
		logger.Error().Err(err).Msg("Failed to persist request")
		return
	}
	s.publish(events.EventRequestPersisted, "request persisted", map[string]string{
		"request_id": req.ID,
		"status":     string(req.Status),
	})
}

func (s *Scheduler) skip(requestID string, file *types.FileEntry, reason string, report *CycleReport) {
	report.FilesSkipped++
	metrics.FilesSkipped.WithLabelValues(reason).Inc()
	s.publish(events.EventFileSkipped, "file left waiting", map[string]string{
		"request_id": requestID,
		"lfn":        file.LFN,
		"reason":     reason,
	})
}

func (s *Scheduler) skipAll(requestID string, files []*types.FileEntry, reason string, report *CycleReport) {
	for _, f := range files {
		s.skip(requestID, f, reason, report)
	}
}

func (s *Scheduler) publish(t events.EventType, msg string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: metadata})
}

func channelPointers(channels []types.Channel) []*types.Channel {
	out := make([]*types.Channel, len(channels))
	for i := range channels {
		out[i] = &channels[i]
	}
	return out
}
