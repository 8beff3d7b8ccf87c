// Package pipeline orchestrates map analysis jobs.
//
// A submitted image becomes a job that moves through a fixed lifecycle:
// queued, processing, then completed or failed. Transitions are forward
// only; a finished job never changes again. A pool of workers drains the
// job queue and runs each job through detection, text recognition,
// coordinate parsing, region clustering, and segment extraction.
//
// Detection and recognition run behind retry with backoff because their
// backends can be transiently unavailable. Clustering and segmentation are
// deterministic local computations and are never retried; any error there
// fails the job outright.
package pipeline
