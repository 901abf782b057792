package proxy

import "errors"

// Sentinel errors matching the failure taxonomy of spec.md §7. Once the
// client request has been read, Execute returns one of these (or a
// client-context error) when it cannot produce a response; an error reading
// the request body is returned as is.
var (
	// ErrNoAvailableUpstream means the selector found no candidate at all —
	// every upstream was disabled, excluded, or unrecoverably UNHEALTHY.
	ErrNoAvailableUpstream = errors.New("proxy: no available upstream")

	// ErrUpstreamTimeout means the last attempt's own per-attempt deadline
	// (requestTimeoutMs or recoveryTimeoutMs) elapsed before a response.
	ErrUpstreamTimeout = errors.New("proxy: upstream timeout")

	// ErrUpstreamTransport means the last attempt failed below the HTTP
	// layer (connection refused, reset, DNS failure, TLS handshake).
	ErrUpstreamTransport = errors.New("proxy: upstream transport error")

	// ErrUpstreamRetryableStatus means every attempt exhausted the retry
	// budget while upstream kept returning a configured-retryable status.
	ErrUpstreamRetryableStatus = errors.New("proxy: upstream returned only retryable statuses")

	// ErrUpstreamNonRetryableStatus means an attempt failed before it ever
	// reached dispatch-level health classification — a request transform
	// rejected the snapshot, or a plugin hook panicked. Never counted
	// against upstream health, since neither reflects on the upstream.
	ErrUpstreamNonRetryableStatus = errors.New("proxy: non-retryable failure before dispatch")
)
