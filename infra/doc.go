// Package infra contains the technical adapters: the document store, the
// MQTT ingest bridge, logging and metrics exporters. These packages depend
// only on the interfaces defined in the core packages.
package infra
