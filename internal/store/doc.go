// Package store defines interfaces for persistence dependencies that sit
// beside the crawl store, such as the crawl event journal. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
