/*
Package events provides an in-memory event broker for scheduling
notifications.

The scheduler publishes one event per file decision and one per completed
cycle. Subscribers (the CLI's run command logs them at debug level) receive
events on buffered channels.

	Publisher -> event queue (buffer: 100) -> broadcast loop
	                                             |
	                          subscriber channels (buffer: 50 each)

# Event Types

	file.scheduled     file placed on every channel of its tree
	file.done          file already present at every target
	file.skipped       file left Waiting (resolution, no channel, persist)
	request.persisted  request body written back to the request source
	cycle.completed    one scheduling pass finished
	transfer.reported  a transfer outcome was recorded

Metadata carries the identifiers of the subject: request_id, lfn, channel
ids, strategy, reason.

# Delivery

Publish never blocks. An event is dropped when the broker queue is full and
a subscriber misses events while its own buffer is full. Events are a
notification stream, not a durable log; the store remains the source of
truth.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["lfn"])
	}
*/
package events
