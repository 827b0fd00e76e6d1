// Package admin serves the operator HTTP endpoint: health, Prometheus
// metrics, live snipe settings and the configured driver sinks.
package admin
