/*
Package storage provides BoltDB-backed persistence for the replication
scheduler.

A single BoltStore plays every storage role the scheduler needs: it is the
request source, the channel store and the file catalog. All records are JSON
encoded, one bucket per record type.

# Buckets

	channels        channel ID        -> types.Channel
	channel_files   "channel/fileID"  -> types.ChannelFile (the channel queues)
	registrations   "channel/fileID"  -> types.FileRegistration
	trees           fileID            -> types.ReplicationTree
	requests        request ID        -> types.ReplicationRequest
	replicas        LFN               -> map[SE]URL
	files           LFN               -> types.FileMetadata
	transfers       sequence          -> types.TransferRecord

# Queue State

Channel queue counters are not stored. ListChannelsWithQueueState derives
QueuedFiles and QueuedSize from the Waiting entries of channel_files, so a
removed or completed entry drops out of the counters with no extra write.

# Throughput

GetObservedThroughput reads the transfers history completed within the
window:

	throughput = bytes of successful transfers / window seconds
	fileput    = successful transfers / window seconds

Every channel gets a sample, so a channel with no history reports zero rates
and a success rate of 100.

# Request Lifecycle

	SubmitRequest            -> Waiting
	FetchNextPendingRequest  Waiting -> Assigned (oldest first)
	PersistRequest           -> Waiting while any file waits,
	                            else the request's aggregate status
	RequeueAssigned          Assigned -> Waiting after an interrupted cycle

# Transfer Feedback

RecordTransfer closes a Waiting queue entry as Done or Failed and appends the
attempt to the history. A successful transfer also registers the replica
named by the entry's FileRegistration, so the next cycle sees the file at
its new SE.

# Errors

Missing records wrap errdefs.ErrNotFound, duplicates errdefs.ErrAlreadyExists
and invalid input errdefs.ErrInvalidArgument:

	if cerrdefs.IsNotFound(err) {
		...
	}
*/
package storage
