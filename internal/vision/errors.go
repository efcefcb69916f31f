package vision

import "errors"

// Sentinel errors for the diagnosis pipeline. Callers match with errors.Is;
// wrapped messages carry the event-specific detail (exit codes, stderr tails,
// timeout windows) so operators can tell a transient restart from a missing
// model artifact.
var (
	// ErrWorkerUnavailable means the persistent worker cannot be started at
	// all: required artifacts are missing or the interpreter failed to launch.
	ErrWorkerUnavailable = errors.New("inference worker unavailable")

	// ErrWorkerStartupTimeout means the worker process started but never
	// printed its ready signal within the startup window.
	ErrWorkerStartupTimeout = errors.New("inference worker startup timed out")

	// ErrInferenceTimeout means a single request exceeded its deadline.
	// Other in-flight requests are unaffected.
	ErrInferenceTimeout = errors.New("inference request timed out")

	// ErrProcessFailed means the worker process reported or suffered a
	// failure: a per-request error message, a crash, or a non-zero exit on
	// the one-shot path.
	ErrProcessFailed = errors.New("inference process failed")

	// ErrOutputInvalid means the worker produced output that cannot be
	// used: no parseable JSON object, or a scores vector whose length does
	// not match the label vocabulary.
	ErrOutputInvalid = errors.New("inference output invalid")

	// ErrBacklogFull means the worker has too many outstanding requests and
	// this submission was rejected without being queued.
	ErrBacklogFull = errors.New("inference backlog full")

	// ErrDiagnosisUnavailable is surfaced only when both the persistent
	// path and the one-shot fallback path have failed.
	ErrDiagnosisUnavailable = errors.New("diagnosis unavailable")
)
