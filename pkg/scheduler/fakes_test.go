package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/replicator/pkg/types"
)

type fakeRequests struct {
	mu        sync.Mutex
	pending   []*types.ReplicationRequest
	repeat    bool
	fetches   int
	persists  int
	persisted map[string][]byte
}

func newFakeRequests(reqs ...*types.ReplicationRequest) *fakeRequests {
	return &fakeRequests{pending: reqs, persisted: make(map[string][]byte)}
}

func (f *fakeRequests) FetchNextPendingRequest(ctx context.Context, kind string) (*types.ReplicationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.pending) == 0 {
		return nil, nil
	}
	req := f.pending[0]
	if !f.repeat {
		f.pending = f.pending[1:]
	}
	return req, nil
}

func (f *fakeRequests) PersistRequest(ctx context.Context, requestID string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persists++
	f.persisted[requestID] = body
	return nil
}

type fakeChannels struct {
	channels   []*types.Channel
	samples    map[string]types.ChannelThroughputSample
	listErr    error
	queued     map[string]types.ChannelFile
	order      []string
	regs       []types.FileRegistration
	trees      map[string]types.ReplicationTree
	removed    []string
	failAdd    map[string]bool // fileID
	failRegFor map[string]bool // fileID
}

func newFakeChannels(channels ...*types.Channel) *fakeChannels {
	return &fakeChannels{
		channels:   channels,
		samples:    make(map[string]types.ChannelThroughputSample),
		queued:     make(map[string]types.ChannelFile),
		trees:      make(map[string]types.ReplicationTree),
		failAdd:    make(map[string]bool),
		failRegFor: make(map[string]bool),
	}
}

func queueKey(channelID, fileID string) string {
	return channelID + "/" + fileID
}

func (f *fakeChannels) ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error) {
	return f.channels, f.listErr
}

func (f *fakeChannels) GetObservedThroughput(ctx context.Context, window time.Duration) (map[string]types.ChannelThroughputSample, error) {
	return f.samples, nil
}

func (f *fakeChannels) AddFileToChannel(ctx context.Context, file types.ChannelFile) error {
	if f.failAdd[file.FileID] {
		return errors.New("queue write failed")
	}
	f.queued[queueKey(file.ChannelID, file.FileID)] = file
	f.order = append(f.order, file.FileID)
	return nil
}

func (f *fakeChannels) RemoveFileFromChannel(ctx context.Context, channelID, fileID string) error {
	delete(f.queued, queueKey(channelID, fileID))
	f.removed = append(f.removed, queueKey(channelID, fileID))
	return nil
}

func (f *fakeChannels) AddFileRegistration(ctx context.Context, reg types.FileRegistration) error {
	if f.failRegFor[reg.FileID] {
		return errors.New("registration write failed")
	}
	f.regs = append(f.regs, reg)
	return nil
}

func (f *fakeChannels) AddReplicationTree(ctx context.Context, fileID string, tree types.ReplicationTree) error {
	f.trees[fileID] = tree
	return nil
}

// channelsFor returns the channel IDs a file is queued on
func (f *fakeChannels) channelsFor(fileID string) []string {
	var ids []string
	for _, cf := range f.queued {
		if cf.FileID == fileID {
			ids = append(ids, cf.ChannelID)
		}
	}
	sort.Strings(ids)
	return ids
}

type fakeCatalog struct {
	replicas map[string]map[string]string
	sizes    map[string]int64
	failed   map[string]string
	err      error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		replicas: make(map[string]map[string]string),
		sizes:    make(map[string]int64),
		failed:   make(map[string]string),
	}
}

func (c *fakeCatalog) add(lfn string, size int64, ses ...string) {
	c.sizes[lfn] = size
	if c.replicas[lfn] == nil {
		c.replicas[lfn] = make(map[string]string)
	}
	for _, se := range ses {
		c.replicas[lfn][se] = "stored://" + se + lfn
	}
}

func (c *fakeCatalog) GetReplicas(ctx context.Context, lfns []string) (*types.ReplicaResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	res := &types.ReplicaResult{Successful: map[string]map[string]string{}, Failed: map[string]string{}}
	for _, lfn := range lfns {
		if reason, ok := c.failed[lfn]; ok {
			res.Failed[lfn] = reason
			continue
		}
		if r, ok := c.replicas[lfn]; ok {
			res.Successful[lfn] = r
		}
	}
	return res, nil
}

func (c *fakeCatalog) GetFileMetadata(ctx context.Context, lfns []string) (*types.MetadataResult, error) {
	res := &types.MetadataResult{Successful: map[string]types.FileMetadata{}, Failed: map[string]string{}}
	for _, lfn := range lfns {
		if size, ok := c.sizes[lfn]; ok {
			res.Successful[lfn] = types.FileMetadata{Size: size}
		}
	}
	return res, nil
}

func (c *fakeCatalog) GetPfnForProtocol(ctx context.Context, pfns []string, targetSE string) (*types.URLResult, error) {
	res := &types.URLResult{Successful: map[string]string{}, Failed: map[string]string{}}
	for _, pfn := range pfns {
		res.Successful[pfn] = strings.Replace(pfn, "stored://", "srm://", 1)
	}
	return res, nil
}

type fakeTopology struct {
	sites map[string]string
}

// newFakeTopology maps "X-disk" to site "LCG.X.ch" for each name
func newFakeTopology(names ...string) *fakeTopology {
	t := &fakeTopology{sites: make(map[string]string)}
	for _, n := range names {
		t.sites[n+"-disk"] = fmt.Sprintf("LCG.%s.ch", n)
	}
	return t
}

func (t *fakeTopology) GetSitesForSE(ctx context.Context, se string) ([]string, error) {
	site, ok := t.sites[se]
	if !ok {
		return nil, fmt.Errorf("unknown SE %s", se)
	}
	return []string{site}, nil
}

func (t *fakeTopology) GetStorageElementStatus(ctx context.Context, se string, mode types.AccessMode) (types.SEStatus, error) {
	return types.SEStatusActive, nil
}

func (t *fakeTopology) GetSEsAtSite(ctx context.Context, site string) ([]string, error) {
	var ses []string
	for se, s := range t.sites {
		if types.ChannelSite(s) == site {
			ses = append(ses, se)
		}
	}
	return ses, nil
}

func (t *fakeTopology) GetCurrentURL(ctx context.Context, se, lfn string) (string, error) {
	if _, ok := t.sites[se]; !ok {
		return "", fmt.Errorf("unknown SE %s", se)
	}
	return "srm://" + se + lfn, nil
}
