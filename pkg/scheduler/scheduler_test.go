package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/replicator/pkg/events"
	"github.com/cuemby/replicator/pkg/metrics"
	"github.com/cuemby/replicator/pkg/strategy"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channel(id, src, dst string) *types.Channel {
	return &types.Channel{ID: id, SourceSite: src, DestSite: dst, Status: types.ChannelStatusActive}
}

func fileID(lfn string) string {
	return strings.TrimPrefix(lfn, "/vo/")
}

func newRequest(id, source, targets, operation string, lfns ...string) *types.ReplicationRequest {
	sub := &types.SubRequest{
		SourceSE:  source,
		TargetSE:  targets,
		Operation: operation,
		Status:    types.StatusWaiting,
	}
	for _, lfn := range lfns {
		sub.Files = append(sub.Files, &types.FileEntry{LFN: lfn, FileID: fileID(lfn), Status: types.StatusWaiting})
	}
	return &types.ReplicationRequest{
		ID:          id,
		Kind:        types.RequestKindTransfer,
		Status:      types.StatusWaiting,
		SubRequests: []*types.SubRequest{sub},
	}
}

type fixture struct {
	requests *fakeRequests
	channels *fakeChannels
	catalog  *fakeCatalog
	topology *fakeTopology
}

func newFixture(channels ...*types.Channel) *fixture {
	return &fixture{
		requests: newFakeRequests(),
		channels: newFakeChannels(channels...),
		catalog:  newFakeCatalog(),
		topology: newFakeTopology("A", "B", "C", "D"),
	}
}

func (f *fixture) scheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := NewScheduler(Config{Strategy: strategy.DefaultConfig(), Seed: 7}, Dependencies{
		Requests: f.requests,
		Channels: f.channels,
		Replicas: f.catalog,
		Topology: f.topology,
	}, opts...)
	require.NoError(t, err)
	return s
}

func (f *fixture) persisted(t *testing.T, id string) types.ReplicationRequest {
	t.Helper()
	body, ok := f.requests.persisted[id]
	require.True(t, ok, "request %s was not persisted", id)
	var req types.ReplicationRequest
	require.NoError(t, json.Unmarshal(body, &req))
	return req
}

func TestNewSchedulerValidates(t *testing.T) {
	f := newFixture()

	_, err := NewScheduler(Config{Strategy: strategy.DefaultConfig()}, Dependencies{Requests: f.requests})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConfiguration))

	bad := strategy.DefaultConfig()
	bad.AcceptableFailureRate = 120
	_, err = NewScheduler(Config{Strategy: bad}, Dependencies{
		Requests: f.requests,
		Channels: f.channels,
		Replicas: f.catalog,
		Topology: f.topology,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConfiguration))
}

func TestRunCycleChainsThroughIntermediateSite(t *testing.T) {
	f := newFixture(channel("1", "A", "B"), channel("2", "B", "C"))
	f.catalog.add("/vo/f1", 100, "A-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "C-disk", "MinimiseTotalWait", "/vo/f1"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requests)
	assert.Equal(t, 1, report.FilesScheduled)

	want := types.ReplicationTree{
		"1": {SourceSE: "A-disk", DestSE: "B-disk", Strategy: "MinimiseTotalWait"},
		"2": {Ancestor: "1", SourceSE: "B-disk", DestSE: "C-disk", Strategy: "MinimiseTotalWait"},
	}
	if diff := cmp.Diff(want, f.channels.trees["f1"]); diff != "" {
		t.Errorf("stored tree mismatch (-want +got):\n%s", diff)
	}

	first := f.channels.queued[queueKey("1", "f1")]
	assert.Equal(t, "srm://A-disk/vo/f1", first.SourceURL, "root edge reads the translated replica")
	assert.Equal(t, "srm://B-disk/vo/f1", first.DestURL)
	assert.Equal(t, types.StatusWaiting, first.Status)
	assert.Equal(t, int64(100), first.Size)

	second := f.channels.queued[queueKey("2", "f1")]
	assert.Equal(t, "srm://B-disk/vo/f1", second.SourceURL, "hop edge reads where its ancestor writes")
	assert.Equal(t, "srm://C-disk/vo/f1", second.DestURL)

	require.Len(t, f.channels.regs, 2)
	assert.Equal(t, "/vo/f1", f.channels.regs[0].LFN)

	req := f.persisted(t, "req-1")
	assert.Equal(t, types.StatusScheduled, req.Status)
	assert.Equal(t, types.StatusScheduled, req.SubRequests[0].Status)
	assert.Equal(t, types.StatusScheduled, req.SubRequests[0].Files[0].Status)
}

func TestRunCycleMarksFilesAlreadyAtTargets(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f1", 100, "A-disk", "B-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/f1"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDone)
	assert.Empty(t, f.channels.queued)

	req := f.persisted(t, "req-1")
	assert.Equal(t, types.StatusDone, req.Status)
	assert.Equal(t, types.StatusDone, req.SubRequests[0].Files[0].Status)
}

func TestRunCycleExcludesSatisfiedTargets(t *testing.T) {
	f := newFixture(channel("1", "A", "B"), channel("2", "A", "C"))
	f.catalog.add("/vo/f1", 100, "A-disk", "B-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk,C-disk", "Simple", "/vo/f1"))

	_, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, f.channels.channelsFor("f1"))
}

func TestRunCycleStopsOnRepeatedRequest(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/missing"))
	f.requests.repeat = true

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requests)
	assert.Equal(t, 2, f.requests.fetches)
	// The repeated fetch is handed back instead of being left assigned.
	assert.Equal(t, 2, f.requests.persists)
	assert.Equal(t, types.StatusWaiting, f.persisted(t, "req-1").SubRequests[0].Files[0].Status)
}

func TestRunCycleRejectsPinnedSourceWithoutReplica(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f1", 10, "D-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "MinimiseTotalWait", "/vo/f1"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesScheduled)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Empty(t, f.channels.queued)
	assert.Equal(t, types.StatusWaiting, f.persisted(t, "req-1").SubRequests[0].Files[0].Status)
}

func TestRunCycleSkipsReplicaWithoutURL(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f1", 10, "A-disk")
	f.catalog.replicas["/vo/f1"]["A-disk"] = ""
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "Simple", "/vo/f1"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesScheduled)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Equal(t, 0, report.PersistFailures)
	assert.Empty(t, f.channels.queued)
	assert.Equal(t, types.StatusWaiting, f.persisted(t, "req-1").SubRequests[0].Files[0].Status)
}

func TestRunCycleProcessesFilesInLFNOrder(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	for _, lfn := range []string{"/vo/f3", "/vo/f1", "/vo/f2"} {
		f.catalog.add(lfn, 10, "A-disk")
	}
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "MinimiseTotalWait", "/vo/f3", "/vo/f1", "/vo/f2"))

	_, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "f3"}, f.channels.order)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ChannelQueuedFiles.WithLabelValues("A-B")))
	assert.Equal(t, 30.0, testutil.ToFloat64(metrics.ChannelQueuedBytes.WithLabelValues("A-B")))
}

func TestRunCycleSkipsUnresolvedFiles(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f2", 10, "A-disk")
	f.catalog.failed["/vo/f1"] = "no such file"
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/f1", "/vo/f2"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Equal(t, 1, report.FilesScheduled)

	req := f.persisted(t, "req-1")
	assert.Equal(t, types.StatusWaiting, req.Status)
	assert.Equal(t, types.StatusWaiting, req.SubRequests[0].Files[0].Status)
	assert.Equal(t, types.StatusScheduled, req.SubRequests[0].Files[1].Status)
}

func TestRunCycleBulkResolutionFailureKeepsRequest(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.err = errors.New("catalog unreachable")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/f1", "/vo/f2"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesSkipped)
	assert.Equal(t, types.StatusWaiting, f.persisted(t, "req-1").Status)
}

func TestRunCycleLeavesFileWaitingWithoutChannel(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f1", 10, "A-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "D-disk", "MinimiseTotalWait", "/vo/f1"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Empty(t, f.channels.queued)
	assert.Equal(t, types.StatusWaiting, f.persisted(t, "req-1").SubRequests[0].Files[0].Status)
}

func TestRunCycleRollsBackFailedPersist(t *testing.T) {
	f := newFixture(channel("1", "A", "B"), channel("2", "B", "C"))
	f.catalog.add("/vo/f1", 100, "A-disk")
	f.catalog.add("/vo/f2", 100, "A-disk")
	f.channels.failRegFor["f1"] = true
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "C-disk", "MinimiseTotalWait", "/vo/f1", "/vo/f2"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PersistFailures)
	assert.Equal(t, 1, report.FilesScheduled)

	assert.Equal(t, []string{queueKey("1", "f1")}, f.channels.removed)
	assert.Empty(t, f.channels.channelsFor("f1"))
	assert.Equal(t, []string{"1", "2"}, f.channels.channelsFor("f2"))
	assert.NotContains(t, f.channels.trees, "f1")

	// The failed file's queue growth is reverted in the cycle state.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChannelQueuedFiles.WithLabelValues("A-B")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChannelQueuedFiles.WithLabelValues("B-C")))

	req := f.persisted(t, "req-1")
	assert.Equal(t, types.StatusWaiting, req.SubRequests[0].Files[0].Status)
	assert.Equal(t, types.StatusScheduled, req.SubRequests[0].Files[1].Status)
	assert.Equal(t, types.StatusWaiting, req.Status)
}

func TestRunCycleQueueGrowthSpreadsFiles(t *testing.T) {
	f := newFixture(channel("1", "A", "B"), channel("2", "D", "B"))
	f.channels.samples["1"] = types.ChannelThroughputSample{ChannelID: "1", Fileput: 1}
	f.channels.samples["2"] = types.ChannelThroughputSample{ChannelID: "2", Fileput: 1}
	f.catalog.add("/vo/f1", 10, "A-disk", "D-disk")
	f.catalog.add("/vo/f2", 10, "A-disk", "D-disk")
	f.requests = newFakeRequests(newRequest("req-1", types.NoSourceSE, "B-disk", "MinimiseTotalWait", "/vo/f1", "/vo/f2"))

	report, err := f.scheduler(t).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.FilesScheduled)

	first, second := f.channels.channelsFor("f1"), f.channels.channelsFor("f2")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first, second, "second file should avoid the channel the first one loaded")
}

func TestRunCycleFailsWhenChannelsUnavailable(t *testing.T) {
	f := newFixture()
	f.channels.listErr = errors.New("store closed")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/f1"))

	_, err := f.scheduler(t).RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.requests.fetches)
}

func TestRunCyclePublishesEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	f := newFixture(channel("1", "A", "B"))
	f.catalog.add("/vo/f1", 10, "A-disk")
	f.requests = newFakeRequests(newRequest("req-1", "A-disk", "B-disk", "", "/vo/f1"))

	_, err := f.scheduler(t, WithBroker(broker)).RunCycle(context.Background())
	require.NoError(t, err)

	var seen []events.EventType
	timeout := time.After(time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != events.EventCycleCompleted {
		select {
		case ev := <-sub:
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("cycle.completed not received, got %v", seen)
		}
	}
	assert.Equal(t, []events.EventType{
		events.EventFileScheduled,
		events.EventRequestPersisted,
		events.EventCycleCompleted,
	}, seen)
}

func TestStartStop(t *testing.T) {
	f := newFixture(channel("1", "A", "B"))
	s, err := NewScheduler(Config{Interval: 10 * time.Millisecond, Strategy: strategy.DefaultConfig()}, Dependencies{
		Requests: f.requests,
		Channels: f.channels,
		Replicas: f.catalog,
		Topology: f.topology,
	})
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool {
		f.requests.mu.Lock()
		defer f.requests.mu.Unlock()
		return f.requests.fetches >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture()
	s := f.scheduler(t)
	s.Stop()
}
