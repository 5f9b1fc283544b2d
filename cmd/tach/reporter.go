package main

import (
	"fmt"

	"github.com/tach-runtime/tach/pkg/events"
)

// consoleReporter is the simplest possible subscriber to the reporter
// event stream: it prints one line per event of each of the four types. Richer
// human/JSON/JUnit report formatting is left to an external
// collaborator subscribing to the same broker — this is just enough
// to make `tach run` usable from a terminal.
type consoleReporter struct {
	broker *events.Broker
	sub    events.Subscriber
	done   chan struct{}
}

func newConsoleReporter(broker *events.Broker) *consoleReporter {
	r := &consoleReporter{
		broker: broker,
		sub:    broker.Subscribe(),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *consoleReporter) run() {
	for {
		select {
		case ev, ok := <-r.sub:
			if !ok {
				return
			}
			r.print(ev)
		case <-r.done:
			return
		}
	}
}

func (r *consoleReporter) print(ev *events.Event) {
	switch ev.Type {
	case events.EventRunStart:
		fmt.Printf("run started (%s tests)\n", ev.Metadata["count"])
	case events.EventTestStart:
		fmt.Printf("  %s ...\n", ev.Metadata["test_id"])
	case events.EventTestFinished:
		fmt.Printf("  %s -> %s (%s)\n", ev.Metadata["test_id"], ev.Metadata["outcome"], ev.Metadata["duration"])
	case events.EventRunFinished:
		fmt.Printf("run finished: %v\n", ev.Metadata)
	}
}

func (r *consoleReporter) Stop() {
	close(r.done)
	r.broker.Unsubscribe(r.sub)
}
