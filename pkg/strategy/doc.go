/*
Package strategy computes replication trees for single files.

A Handler takes a frozen ChannelState, a source constraint, the target SEs
and the file's known replicas, and returns a Decision: the tree of channel
hops that moves the file everywhere it is needed plus the queue deltas that
tree causes. The handler never mutates the state; the caller applies the
deltas so that later files of the same cycle see the extra load.

# Time to start

Every channel gets a projected wait before a new file would start:

	inactive channel                       -> +Inf
	success rate < AcceptableFailureRate   -> +Inf
	SchedulingType File                    -> queuedFiles / fileput
	SchedulingType Throughput              -> queuedSize / throughput

A zero rate yields zero. Channels at +Inf are never chosen by the cost-based
strategies.

# Strategies

  - Simple: one direct edge from the pinned source to every target.
  - Swarm: for each target, the single fastest edge from any active replica.
  - MinimiseTotalWait: greedy tree; an edge costs its time to start, plus
    HopSigma when it leaves an intermediate SE.
  - DynamicThroughput: as above, but an edge also carries the full path cost
    of its source, so HopSigma accumulates with depth.

Equal costs are broken by a uniform draw from the injected Rand. A
same-site transfer with a defined local channel is taken immediately. When no
channel reaches a remaining target directly, the multi-hop strategies relay
the file through an intermediate site holding a writable SE.

Strategy identifiers may carry a sigma override, parsed once at ingestion:

	spec, err := strategy.Parse("MinimiseTotalWait_2.5")

When a request does not pin a strategy, NextStrategy rotates through the
configured ActiveStrategies.
*/
package strategy
