// Package server hosts the admin HTTP plane of a txmuxd node: health and
// readiness probes, the Prometheus scrape endpoint, and live snapshots of
// every attached peer engine. It observes peers through their snapshots
// only and never touches the message path.
package server
