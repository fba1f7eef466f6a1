/*
Package types defines the data model shared by the replication scheduler.

# Channels

A Channel is a directed link between two sites, never between two storage
elements: every SE resolves to one or more sites and SEs at the same site share
channels. Channels are looked up by their derived name "SourceSite-DestSite".
The only mutable fields from the scheduler's point of view are QueuedFiles and
QueuedSize, which grow by a ChannelDelta for every file routed over the channel.

ChannelThroughputSample is the observed state of a channel over a sliding
window (one hour by default):

	successRate = successful / (successful + failed) * 100   (100 when idle)

# Requests

	ReplicationRequest
	└── SubRequest (source SE or "None", comma-separated targets, operation)
	    └── FileEntry (LFN, file ID, status)

Only files in status Waiting are eligible for scheduling. Files move to
Scheduled once a tree has been persisted for them, or to Done when every
target already holds a replica.

# Replication trees

A ReplicationTree maps channel IDs to TreeEdge values. An edge whose source
is itself the destination of another edge points at that edge's channel via
Ancestor, so a tree is a rooted forest:

	CERN-RAL   {Ancestor: "",         SourceSE: CERN-disk, DestSE: RAL-disk}
	RAL-GRIDKA {Ancestor: "CERN-RAL", SourceSE: RAL-disk,  DestSE: GRIDKA-disk}

# Errors

Error is a tagged error whose Kind mirrors how far a failure propagates:
Configuration and NoActiveChannel stop one tree computation, Resolution skips
one file or edge, Persist abandons one file for the cycle. Each kind also
matches a containerd errdefs class through errors.Is.
*/
package types
