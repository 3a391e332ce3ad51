// Package sinks implements concrete crawl event consumers such as broker
// forwarding, Prometheus, the event journal, and structured logging. Each sink
// satisfies the progress.Sink interface and is safe for repeated Consume/Close
// cycles.
package sinks
