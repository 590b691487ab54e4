package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteHeartbeat records a device check-in.
//
// Each authenticated check-in produces one point, tagged with the device
// and its current panic state. Dashboards use this for fleet visibility
// (last-seen, check-in frequency, locked device counts over time).
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Public identifier of the device
//   - state: Current panic state label (e.g., "unlocked", "locked")
//   - surface: API surface the check-in arrived on ("client" or "mobile")
func (c *Client) WriteHeartbeat(deviceID, state, surface string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"heartbeat",
		map[string]string{
			"device_id": deviceID,
			"state":     state,
			"surface":   surface,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStateTransition records a panic-state change.
//
// One point per transition, tagged with the device and both states.
// Used to chart lock/unlock activity across the fleet.
//
// Parameters:
//   - deviceID: Public identifier of the device
//   - fromState: State before the transition
//   - toState: State after the transition
func (c *Client) WriteStateTransition(deviceID, fromState, toState string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"state_transition",
		map[string]string{
			"device_id": deviceID,
			"from":      fromState,
			"to":        toState,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
