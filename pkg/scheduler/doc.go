/*
Package scheduler implements the replication scheduling loop.

One cycle drains the pending transfer requests once, computes a replication
tree for every waiting file and places the file on the channel queues of
that tree.

# Cycle

	┌──────────────────────── RunCycle ─────────────────────────┐
	│                                                             │
	│  ListChannelsWithQueueState + GetObservedThroughput(window) │
	│                      │                                      │
	│                      ▼                                      │
	│             strategy.ChannelState (frozen samples)          │
	│                      │                                      │
	│  FetchNextPendingRequest ◄────────┐                         │
	│        │ nil / seen before: stop  │                         │
	│        ▼                          │                         │
	│  waiting sub-requests             │                         │
	│        │ GetReplicas, GetFileMetadata                       │
	│        ▼                          │                         │
	│  files sorted by LFN              │                         │
	│        │ all targets present -> Done                        │
	│        │ DetermineReplicationTree -> Decision               │
	│        │ Apply deltas, resolve URLs                         │
	│        │ AddFileToChannel + AddFileRegistration per edge    │
	│        │ failure: RemoveFileFromChannel, Revert deltas      │
	│        ▼                          │                         │
	│  PersistRequest (always) ─────────┘                         │
	└─────────────────────────────────────────────────────────────┘

The strategy handler lives as long as the Scheduler, so round-robin
selection keeps rotating across cycles. The ChannelState is rebuilt every
cycle: later files see the queue growth of earlier files of the same cycle
but throughput is only refreshed at the next cycle.

# Failure Containment

A file that cannot be resolved, has no usable channel, or whose queue writes
fail stays Waiting and is retried on the next cycle. RunCycle itself fails
only when the channel snapshot cannot be loaded. A request fetched twice in
one cycle ends the cycle, so a request source that never dequeues cannot
loop forever.

# Transfer URLs

An edge leaving an existing replica reads from that replica, translated by
GetPfnForProtocol for the destination SE and used as stored when the
translation fails. An edge leaving a hop destination reads from the URL its
ancestor writes to, built by GetCurrentURL.

# Usage

	s, err := scheduler.NewScheduler(scheduler.Config{
		Interval:          time.Minute,
		ObservationWindow: time.Hour,
		Strategy:          strategy.DefaultConfig(),
	}, scheduler.Dependencies{
		Requests: store,
		Channels: store,
		Replicas: topology.NewReplicaResolver(store, topo),
		Topology: topo,
	}, scheduler.WithBroker(broker))
	if err != nil {
		return err
	}
	s.Start()
	defer s.Stop()
*/
package scheduler
