package topology

import (
	"context"

	"github.com/cuemby/replicator/pkg/types"
)

// Catalog is the replica and metadata half of a replica resolver
type Catalog interface {
	GetReplicas(ctx context.Context, lfns []string) (*types.ReplicaResult, error)
	GetFileMetadata(ctx context.Context, lfns []string) (*types.MetadataResult, error)
}

// ReplicaResolver answers catalog lookups from a Catalog and URL
// translation from a Topology
type ReplicaResolver struct {
	Catalog
	topology *Topology
}

// NewReplicaResolver combines a catalog with a topology
func NewReplicaResolver(catalog Catalog, topology *Topology) *ReplicaResolver {
	return &ReplicaResolver{Catalog: catalog, topology: topology}
}

// GetPfnForProtocol translates replica URLs for the target SE
func (r *ReplicaResolver) GetPfnForProtocol(ctx context.Context, pfns []string, targetSE string) (*types.URLResult, error) {
	return r.topology.GetPfnForProtocol(ctx, pfns, targetSE)
}
