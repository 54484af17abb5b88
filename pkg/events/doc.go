/*
Package events provides an in-memory broker for beacon's domain events.

Components that change credentials or assignments, or that drop a report,
publish an Event describing what happened. The serve command subscribes an
audit logger; tests can subscribe directly and assert on the stream.

	Publisher -> event channel (buffer: 100) -> broadcast loop
	          -> subscriber channels (buffer: 50 each)

Publish never blocks the caller. An event is dropped, and counted in
Dropped, when the queue or a subscriber buffer is full, or after Stop.
Ingestion publishes report.rejected from its hot path, so a slow audit
subscriber must not be able to stall it.

# Event types

	key.issued          a new event API key was issued
	key.invalidated     a key was invalidated explicitly
	assignment.updated  one or more tracker assignments changed
	report.rejected     a tracker report failed validation
	tracker.first_seen  first accepted report from a tracker
	admin.login         an admin session was issued
	admin.login_failed  bad admin credentials
	admin.logout        an admin session was revoked

Metadata holds identifiers (event name, key id, tracker id, reason) and
never secrets, tags or tokens.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			log.Info(string(ev.Type))
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventKeyIssued,
		Metadata: map[string]string{"event": "race", "key_id": id},
	})
*/
package events
