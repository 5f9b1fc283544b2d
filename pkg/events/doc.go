/*
Package events provides an in-memory pub/sub broker for the reporter
event stream.

The supervisor (EventRunStart, EventRunFinished) and the scheduler
(EventTestStart, EventTestFinished) publish exactly four event types to
a Broker; any number of subscribers (a human-readable printer, a JSON
writer, a JUnit writer) can Subscribe() independently. Formatting is
explicitly out of scope here: this package only guarantees fan-out
delivery, non-blocking publish, and best-effort semantics (a subscriber
whose buffer is full skips events rather than stalling the run).

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventTestFinished,
		Message: "test_parse_header passed",
		Metadata: map[string]string{
			"test_id": "tests/test_parse.py::test_parse_header",
			"outcome": "pass",
		},
	})
*/
package events
