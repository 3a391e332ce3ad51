// Package progress buffers crawl events off the request path. The Hub accepts
// events through crawler.Publisher, groups them into per-crawl batches, and
// hands each batch to every registered Sink (broker, metrics, journal, log).
//
// Events from one crawl reach a sink in publish order. Batches from
// different crawls are independent. A crawl's pending batch is cut when it
// reaches MaxBatchEvents, when its topic changes, when the crawl stops, or on
// the MaxBatchWait tick. Publishing never blocks: a full buffer drops the
// event and reports ErrBackpressure.
package progress
