// Package crawler holds the crawl and page model, the queue message shapes,
// the error taxonomy, and the interfaces for the external capabilities the
// frontier depends on: the durable store, the queue service, the blob store,
// the seen-URL set, and the event publisher.
package crawler
