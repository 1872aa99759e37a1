// Package events defines the charge-kill events emitted on the event bus.
//
// Available event types:
//   - ChargeEvent: a stop command was dispatched or reused for a vehicle,
//     optionally disarming its policy
package events
