// Package crawler implements the listing walk for the car crawler: the
// record validator, pagination and session policies, run statistics and the
// orchestrator that composes them with a fetcher, an extractor and a sink.
package crawler
