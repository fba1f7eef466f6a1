package storage

import (
	"context"
	"time"

	"github.com/cuemby/replicator/pkg/types"
)

// Store defines the interface for scheduler state storage.
// Missing records are reported with errdefs.ErrNotFound and duplicates with
// errdefs.ErrAlreadyExists.
type Store interface {
	// Channels
	CreateChannel(ctx context.Context, ch *types.Channel) error
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	ListChannels(ctx context.Context) ([]*types.Channel, error)
	SetChannelStatus(ctx context.Context, id string, status types.ChannelStatus) error
	ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error)
	GetObservedThroughput(ctx context.Context, window time.Duration) (map[string]types.ChannelThroughputSample, error)

	// Channel queues
	AddFileToChannel(ctx context.Context, file types.ChannelFile) error
	RemoveFileFromChannel(ctx context.Context, channelID, fileID string) error
	ListChannelFiles(ctx context.Context, channelID string) ([]*types.ChannelFile, error)
	AddFileRegistration(ctx context.Context, reg types.FileRegistration) error
	AddReplicationTree(ctx context.Context, fileID string, tree types.ReplicationTree) error
	GetReplicationTree(ctx context.Context, fileID string) (types.ReplicationTree, error)

	// Requests
	SubmitRequest(ctx context.Context, req *types.ReplicationRequest) error
	GetRequest(ctx context.Context, id string) (*types.ReplicationRequest, error)
	ListRequests(ctx context.Context) ([]*types.ReplicationRequest, error)
	CountRequestsByStatus(ctx context.Context) (map[types.Status]int, error)
	FetchNextPendingRequest(ctx context.Context, kind string) (*types.ReplicationRequest, error)
	PersistRequest(ctx context.Context, requestID string, body []byte) error
	RequeueAssigned(ctx context.Context) (int, error)

	// Catalog
	RegisterReplica(ctx context.Context, lfn, se, url string) error
	SetFileMetadata(ctx context.Context, lfn string, meta types.FileMetadata) error
	GetReplicas(ctx context.Context, lfns []string) (*types.ReplicaResult, error)
	GetFileMetadata(ctx context.Context, lfns []string) (*types.MetadataResult, error)

	// Transfers
	RecordTransfer(ctx context.Context, rec types.TransferRecord) error

	// Utility
	Close() error
}
