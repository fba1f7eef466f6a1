package scheduler

import (
	"context"
	"time"

	"github.com/cuemby/replicator/pkg/strategy"
	"github.com/cuemby/replicator/pkg/types"
)

// RequestSource hands out pending requests and stores their updated bodies.
// FetchNextPendingRequest returns nil when no request is pending.
type RequestSource interface {
	FetchNextPendingRequest(ctx context.Context, kind string) (*types.ReplicationRequest, error)
	PersistRequest(ctx context.Context, requestID string, body []byte) error
}

// ChannelStore holds the channel table, the channel work queues and the
// post-transfer registrations
type ChannelStore interface {
	ListChannelsWithQueueState(ctx context.Context) ([]*types.Channel, error)
	GetObservedThroughput(ctx context.Context, window time.Duration) (map[string]types.ChannelThroughputSample, error)
	AddFileToChannel(ctx context.Context, file types.ChannelFile) error
	RemoveFileFromChannel(ctx context.Context, channelID, fileID string) error
	AddFileRegistration(ctx context.Context, reg types.FileRegistration) error
	AddReplicationTree(ctx context.Context, fileID string, tree types.ReplicationTree) error
}

// ReplicaResolver looks up replicas, sizes and transfer URLs in the catalog
type ReplicaResolver interface {
	GetReplicas(ctx context.Context, lfns []string) (*types.ReplicaResult, error)
	GetFileMetadata(ctx context.Context, lfns []string) (*types.MetadataResult, error)
	GetPfnForProtocol(ctx context.Context, pfns []string, targetSE string) (*types.URLResult, error)
}

// StorageEndpointResolver builds the URL of a file on an SE
type StorageEndpointResolver interface {
	GetCurrentURL(ctx context.Context, se, lfn string) (string, error)
}

// Topology combines site mapping, SE status and endpoint resolution
type Topology interface {
	strategy.Topology
	StorageEndpointResolver
}

// Dependencies are the collaborators a Scheduler works against
type Dependencies struct {
	Requests RequestSource
	Channels ChannelStore
	Replicas ReplicaResolver
	Topology Topology
}

func (d Dependencies) validate() error {
	switch {
	case d.Requests == nil:
		return types.Errorf(types.KindConfiguration, "new scheduler", "", "request source is required")
	case d.Channels == nil:
		return types.Errorf(types.KindConfiguration, "new scheduler", "", "channel store is required")
	case d.Replicas == nil:
		return types.Errorf(types.KindConfiguration, "new scheduler", "", "replica resolver is required")
	case d.Topology == nil:
		return types.Errorf(types.KindConfiguration, "new scheduler", "", "topology is required")
	}
	return nil
}
