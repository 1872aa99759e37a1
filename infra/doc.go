// Package infra groups the adapters behind the core contracts: the vehicle
// provider client, the settings stores, job queues, the Redis cache, mail,
// MQTT and metrics exporters. Core packages never import them.
package infra
