// Package scheduler implements the periodic trigger of the charge-kill
// procedure. Each tick reads the vehicles with an armed policy and enqueues
// one kill-charging job per vehicle. Ticks are stateless: a vehicle is
// re-evaluated on every tick until its policy is disarmed.
package scheduler
