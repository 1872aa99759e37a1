// Package chargekill decides, for one vehicle at a time, whether charging
// must be stopped and issues the stop command through the telemetry
// provider.
//
// An evaluation runs inside the settings store's row lock so that two
// evaluations of the same vehicle never interleave. A vehicle whose battery
// has not reached its threshold produces no write at all; a vehicle that has
// reached it always ends with its last action id persisted, reusing a
// previous stop command while that command is still pending or confirmed.
package chargekill
