/*
Package events provides an in-memory event broker for control-plane
events: service/change/environment lifecycle and deployment status
transitions (spec.md §4.2.2/§4.2.4). pkg/manager creates and starts the
broker; no package in this repository publishes events to it.

# Architecture

	Publisher → eventCh (buffer 100) → broadcast loop → subscriber channels (buffer 50 each)

Publish blocks while the 100-event buffer is full (or until the broker is
stopped); delivery fans out, and a full subscriber buffer is skipped rather
than blocking the broadcast loop.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventDeploymentHealthy:
				notifyHealthy(event)
			case events.EventDeploymentFailed:
				notifyFailed(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:         events.EventDeploymentHealthy,
		ServiceID:    service.ID,
		DeploymentID: deployment.ID,
		Message:      "deployment is healthy",
	})

# Subscribers

No package in this repository subscribes to the broker.

# Limitations

In-memory only: no persistence, no replay, no delivery guarantee. A
subscriber that needs the full deployment history reads pkg/storage instead;
this bus is for "tell me as it happens," not "give me what I missed."
*/
package events
