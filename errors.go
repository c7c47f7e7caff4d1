package ragfab

import "errors"

// Error taxonomy. Each sentinel corresponds to one of the kinds described in
// the engine's error-handling design: TransientExternal, FatalExternal,
// DataValidation, StorageConflict, CancellationRequested, QuotaOrRateLimit.
// Callers should check with errors.Is, not string matching.
var (
	// ErrTransientExternal wraps network timeouts and 5xx responses from the
	// embedding, reranker, or LLM services. Retry with backoff.
	ErrTransientExternal = errors.New("ragfab: transient external failure")

	// ErrFatalExternal wraps authentication failures, misconfiguration 4xx
	// responses, and embedding dimension mismatches. Not retryable.
	ErrFatalExternal = errors.New("ragfab: fatal external failure")

	// ErrDataValidation wraps malformed tool-call arguments, unparseable LLM
	// JSON, and empty tsqueries. Callers fall back to a safe default.
	ErrDataValidation = errors.New("ragfab: data validation failure")

	// ErrStorageConflict wraps unique-constraint violations and lost job
	// claims. Not a real error — "someone else got it".
	ErrStorageConflict = errors.New("ragfab: storage conflict")

	// ErrCancellationRequested wraps caller disconnects. Propagate; never log
	// as an error; never persist partial writes.
	ErrCancellationRequested = errors.New("ragfab: cancellation requested")

	// ErrQuotaOrRateLimit wraps 429 responses from external services.
	ErrQuotaOrRateLimit = errors.New("ragfab: quota or rate limit exceeded")

	// ErrDocumentNotFound is returned when a document id does not exist.
	ErrDocumentNotFound = errors.New("ragfab: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("ragfab: unsupported document format")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("ragfab: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("ragfab: invalid configuration")

	// ErrRagTimeout is returned when the orchestrator's wall-clock budget for
	// a single answer is exhausted.
	ErrRagTimeout = errors.New("ragfab: rag timeout")

	// ErrServiceDegraded is surfaced when a TransientExternal retry budget is
	// exhausted, or when retrieval returns zero results against a store known
	// to be non-empty.
	ErrServiceDegraded = errors.New("ragfab: service degraded")
)
