package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/cuemby/replicator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketChannels      = []byte("channels")
	bucketChannelFiles  = []byte("channel_files")
	bucketRegistrations = []byte("registrations")
	bucketTrees         = []byte("trees")
	bucketRequests      = []byte("requests")
	bucketReplicas      = []byte("replicas")
	bucketFiles         = []byte("files")
	bucketTransfers     = []byte("transfers")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "replicator.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketChannels,
			bucketChannelFiles,
			bucketRegistrations,
			bucketTrees,
			bucketRequests,
			bucketReplicas,
			bucketFiles,
			bucketTransfers,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func queueKey(channelID, fileID string) []byte {
	return []byte(channelID + "/" + fileID)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s not found: %s: %w", kind, id, cerrdefs.ErrNotFound)
}

func alreadyExists(kind, id string) error {
	return fmt.Errorf("%s already exists: %s: %w", kind, id, cerrdefs.ErrAlreadyExists)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// lessID orders numeric channel IDs numerically and the rest lexically
func lessID(a, b string) bool {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// Channel operations

// CreateChannel stores a new channel. An empty ID is assigned from the
// bucket sequence; a second channel between the same sites is rejected.
func (s *BoltStore) CreateChannel(ctx context.Context, ch *types.Channel) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Channel
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name() == ch.Name() {
				return alreadyExists("channel", ch.Name())
			}
			if existing.ID == ch.ID {
				return alreadyExists("channel", ch.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for ch.ID == "" {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if id := strconv.FormatUint(seq, 10); b.Get([]byte(id)) == nil {
				ch.ID = id
			}
		}
		if ch.Status == "" {
			ch.Status = types.ChannelStatusActive
		}
		return putJSON(b, []byte(ch.ID), ch)
	})
}

func (s *BoltStore) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	var ch types.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketChannels).Get([]byte(id))
		if data == nil {
			return notFound("channel", id)
		}
		return json.Unmarshal(data, &ch)
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *BoltStore) ListChannels(ctx context.Context) ([]*types.Channel, error) {
	var channels []*types.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		channels, err = listChannels(tx)
		return err
	})
	return channels, err
}

func listChannels(tx *bolt.Tx) ([]*types.Channel, error) {
	var channels []*types.Channel
	err := tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
		var ch types.Channel
		if err := json.Unmarshal(v, &ch); err != nil {
			return err
		}
		channels = append(channels, &ch)
		return nil
	})
	sort.Slice(channels, func(i, j int) bool { return lessID(channels[i].ID, channels[j].ID) })
	return channels, err
}

func (s *BoltStore) SetChannelStatus(ctx context.Context, id string, status types.ChannelStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		data := b.Get([]byte(id))
		if data == nil {
			return notFound("channel", id)
		}
		var ch types.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return err
		}
		ch.Status = status
		return putJSON(b, []byte(id), &ch)
	})
}

// ListChannelsWithQueueState returns the channels with their queue counters
// derived from the Waiting entries of each channel queue
func (s *BoltStore) ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error) {
	var channels []*types.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		channels, err = listChannels(tx)
		if err != nil {
			return err
		}
		byID := make(map[string]*types.Channel, len(channels))
		for _, ch := range channels {
			ch.QueuedFiles = 0
			ch.QueuedSize = 0
			byID[ch.ID] = ch
		}
		return tx.Bucket(bucketChannelFiles).ForEach(func(k, v []byte) error {
			var f types.ChannelFile
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if ch, ok := byID[f.ChannelID]; ok && f.Status == types.StatusWaiting {
				ch.QueuedFiles++
				ch.QueuedSize += f.Size
			}
			return nil
		})
	})
	return channels, err
}

// GetObservedThroughput aggregates the transfer history completed within
// the window. Every channel gets a sample; channels without history get an
// empty one.
func (s *BoltStore) GetObservedThroughput(ctx context.Context, window time.Duration) (map[string]types.ChannelThroughputSample, error) {
	if window <= 0 {
		return nil, fmt.Errorf("observation window must be positive: %w", cerrdefs.ErrInvalidArgument)
	}
	since := s.now().Add(-window)

	samples := make(map[string]types.ChannelThroughputSample)
	bytesDone := make(map[string]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		channels, err := listChannels(tx)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			samples[ch.ID] = types.ChannelThroughputSample{ChannelID: ch.ID}
		}
		return tx.Bucket(bucketTransfers).ForEach(func(k, v []byte) error {
			var rec types.TransferRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.CompletedAt.Before(since) {
				return nil
			}
			sample := samples[rec.ChannelID]
			sample.ChannelID = rec.ChannelID
			if rec.Success {
				sample.SuccessfulFiles++
				bytesDone[rec.ChannelID] += rec.Bytes
			} else {
				sample.FailedFiles++
			}
			samples[rec.ChannelID] = sample
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	seconds := window.Seconds()
	for id, sample := range samples {
		sample.Throughput = float64(bytesDone[id]) / seconds
		sample.Fileput = float64(sample.SuccessfulFiles) / seconds
		samples[id] = sample
	}
	return samples, nil
}

// Channel queue operations

func (s *BoltStore) AddFileToChannel(ctx context.Context, file types.ChannelFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChannels).Get([]byte(file.ChannelID)) == nil {
			return notFound("channel", file.ChannelID)
		}
		b := tx.Bucket(bucketChannelFiles)
		key := queueKey(file.ChannelID, file.FileID)
		if b.Get(key) != nil {
			return alreadyExists("channel file", string(key))
		}
		if file.CreatedAt.IsZero() {
			file.CreatedAt = s.now()
		}
		return putJSON(b, key, &file)
	})
}

func (s *BoltStore) RemoveFileFromChannel(ctx context.Context, channelID, fileID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChannelFiles)
		key := queueKey(channelID, fileID)
		if b.Get(key) == nil {
			return notFound("channel file", string(key))
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) ListChannelFiles(ctx context.Context, channelID string) ([]*types.ChannelFile, error) {
	var files []*types.ChannelFile
	prefix := []byte(channelID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChannelFiles).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f types.ChannelFile
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			files = append(files, &f)
		}
		return nil
	})
	return files, err
}

func (s *BoltStore) AddFileRegistration(ctx context.Context, reg types.FileRegistration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketRegistrations), queueKey(reg.ChannelID, reg.FileID), &reg)
	})
}

func (s *BoltStore) AddReplicationTree(ctx context.Context, fileID string, tree types.ReplicationTree) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketTrees), []byte(fileID), tree)
	})
}

func (s *BoltStore) GetReplicationTree(ctx context.Context, fileID string) (types.ReplicationTree, error) {
	var tree types.ReplicationTree
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTrees).Get([]byte(fileID))
		if data == nil {
			return notFound("replication tree", fileID)
		}
		return json.Unmarshal(data, &tree)
	})
	return tree, err
}

// Request operations

// SubmitRequest stores a new request in status Waiting
func (s *BoltStore) SubmitRequest(ctx context.Context, req *types.ReplicationRequest) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required: %w", cerrdefs.ErrInvalidArgument)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		if b.Get([]byte(req.ID)) != nil {
			return alreadyExists("request", req.ID)
		}
		now := s.now()
		if req.Kind == "" {
			req.Kind = types.RequestKindTransfer
		}
		req.Status = types.StatusWaiting
		req.CreatedAt = now
		req.UpdatedAt = now
		for _, sub := range req.SubRequests {
			if sub.Status == "" {
				sub.Status = types.StatusWaiting
			}
			for _, f := range sub.Files {
				if f.Status == "" {
					f.Status = types.StatusWaiting
				}
			}
		}
		return putJSON(b, []byte(req.ID), req)
	})
}

func (s *BoltStore) GetRequest(ctx context.Context, id string) (*types.ReplicationRequest, error) {
	var req types.ReplicationRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(id))
		if data == nil {
			return notFound("request", id)
		}
		return json.Unmarshal(data, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequests returns all requests, oldest first
func (s *BoltStore) ListRequests(ctx context.Context) ([]*types.ReplicationRequest, error) {
	var reqs []*types.ReplicationRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		reqs, err = listRequests(tx)
		return err
	})
	return reqs, err
}

func listRequests(tx *bolt.Tx) ([]*types.ReplicationRequest, error) {
	var reqs []*types.ReplicationRequest
	err := tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
		var req types.ReplicationRequest
		if err := json.Unmarshal(v, &req); err != nil {
			return err
		}
		reqs = append(reqs, &req)
		return nil
	})
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, err
}

func (s *BoltStore) CountRequestsByStatus(ctx context.Context) (map[types.Status]int, error) {
	counts := make(map[types.Status]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var req types.ReplicationRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			counts[req.Status]++
			return nil
		})
	})
	return counts, err
}

// FetchNextPendingRequest hands out the least recently attempted Waiting
// request of the given kind and marks it Assigned. A request persisted back
// with files still waiting therefore queues behind the requests not yet
// attempted. It returns nil when none is pending.
func (s *BoltStore) FetchNextPendingRequest(ctx context.Context, kind string) (*types.ReplicationRequest, error) {
	var next *types.ReplicationRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		reqs, err := listRequests(tx)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if req.Kind != kind || req.Status != types.StatusWaiting {
				continue
			}
			if next == nil || req.UpdatedAt.Before(next.UpdatedAt) {
				next = req
			}
		}
		if next == nil {
			return nil
		}
		next.Status = types.StatusAssigned
		next.UpdatedAt = s.now()
		return putJSON(tx.Bucket(bucketRequests), []byte(next.ID), next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// PersistRequest stores the body written back by the scheduler. A request
// with files left to schedule goes back to Waiting.
func (s *BoltStore) PersistRequest(ctx context.Context, requestID string, body []byte) error {
	var req types.ReplicationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to decode request %s: %w", requestID, err)
	}
	if req.ID != requestID {
		return fmt.Errorf("request body id %q does not match %q: %w", req.ID, requestID, cerrdefs.ErrInvalidArgument)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		data := b.Get([]byte(requestID))
		if data == nil {
			return notFound("request", requestID)
		}
		var stored types.ReplicationRequest
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}

		if req.HasWaitingFiles() {
			req.Status = types.StatusWaiting
		} else {
			req.Status = req.AggregateStatus()
		}
		req.CreatedAt = stored.CreatedAt
		req.UpdatedAt = s.now()
		return putJSON(b, []byte(requestID), &req)
	})
}

// RequeueAssigned returns requests left Assigned by an interrupted cycle to
// Waiting
func (s *BoltStore) RequeueAssigned(ctx context.Context) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		reqs, err := listRequests(tx)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketRequests)
		for _, req := range reqs {
			if req.Status != types.StatusAssigned {
				continue
			}
			req.Status = types.StatusWaiting
			req.UpdatedAt = s.now()
			if err := putJSON(b, []byte(req.ID), req); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Catalog operations

func (s *BoltStore) RegisterReplica(ctx context.Context, lfn, se, url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return registerReplica(tx, lfn, se, url)
	})
}

func registerReplica(tx *bolt.Tx, lfn, se, url string) error {
	b := tx.Bucket(bucketReplicas)
	replicas := make(map[string]string)
	if data := b.Get([]byte(lfn)); data != nil {
		if err := json.Unmarshal(data, &replicas); err != nil {
			return err
		}
	}
	replicas[se] = url
	return putJSON(b, []byte(lfn), replicas)
}

func (s *BoltStore) SetFileMetadata(ctx context.Context, lfn string, meta types.FileMetadata) error {
	if meta.Size < 0 {
		return fmt.Errorf("file size must not be negative: %w", cerrdefs.ErrInvalidArgument)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFiles), []byte(lfn), &meta)
	})
}

func (s *BoltStore) GetReplicas(ctx context.Context, lfns []string) (*types.ReplicaResult, error) {
	res := &types.ReplicaResult{
		Successful: make(map[string]map[string]string),
		Failed:     make(map[string]string),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReplicas)
		for _, lfn := range lfns {
			data := b.Get([]byte(lfn))
			if data == nil {
				res.Failed[lfn] = "no replicas registered"
				continue
			}
			replicas := make(map[string]string)
			if err := json.Unmarshal(data, &replicas); err != nil {
				return err
			}
			if len(replicas) == 0 {
				res.Failed[lfn] = "no replicas registered"
				continue
			}
			res.Successful[lfn] = replicas
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *BoltStore) GetFileMetadata(ctx context.Context, lfns []string) (*types.MetadataResult, error) {
	res := &types.MetadataResult{
		Successful: make(map[string]types.FileMetadata),
		Failed:     make(map[string]string),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		for _, lfn := range lfns {
			data := b.Get([]byte(lfn))
			if data == nil {
				res.Failed[lfn] = "no such file"
				continue
			}
			var meta types.FileMetadata
			if err := json.Unmarshal(data, &meta); err != nil {
				return err
			}
			res.Successful[lfn] = meta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Transfer operations

// RecordTransfer closes a queued transfer. The queue entry becomes Done or
// Failed, the attempt joins the throughput history, and a successful
// transfer registers the new replica from the file's registration.
func (s *BoltStore) RecordTransfer(ctx context.Context, rec types.TransferRecord) error {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketChannelFiles)
		key := queueKey(rec.ChannelID, rec.FileID)
		data := files.Get(key)
		if data == nil {
			return notFound("channel file", string(key))
		}
		var f types.ChannelFile
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		if f.Status != types.StatusWaiting {
			return fmt.Errorf("transfer %s already closed as %s: %w", key, f.Status, cerrdefs.ErrFailedPrecondition)
		}
		if rec.Success {
			f.Status = types.StatusDone
		} else {
			f.Status = types.StatusFailed
		}
		if rec.Bytes == 0 && rec.Success {
			rec.Bytes = f.Size
		}
		if err := putJSON(files, key, &f); err != nil {
			return err
		}

		transfers := tx.Bucket(bucketTransfers)
		seq, err := transfers.NextSequence()
		if err != nil {
			return err
		}
		seqKey := make([]byte, 8)
		binary.BigEndian.PutUint64(seqKey, seq)
		if err := putJSON(transfers, seqKey, &rec); err != nil {
			return err
		}

		if !rec.Success {
			return nil
		}
		regData := tx.Bucket(bucketRegistrations).Get(key)
		if regData == nil {
			return nil
		}
		var reg types.FileRegistration
		if err := json.Unmarshal(regData, &reg); err != nil {
			return err
		}
		return registerReplica(tx, reg.LFN, reg.DestSE, reg.TargetURL)
	})
}
