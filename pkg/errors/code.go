package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Queue & messaging errors
// 12000-12999: Storage & catalog errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Sandbox errors
// 15000-15999: Worker pool errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Circuit breaker errors (10400-10499)
	CircuitOpen ErrorCode = 10400

	// ========== Queue & Messaging Errors (11000-11999) ==========

	QueueUnavailable   ErrorCode = 11000
	PublishFailed      ErrorCode = 11001
	ConsumeFailed      ErrorCode = 11002
	MessageMalformed   ErrorCode = 11003
	AckFailed          ErrorCode = 11004
	RetryExhausted     ErrorCode = 11005
	TopologyDeclareErr ErrorCode = 11006

	// ========== Storage & Catalog Errors (12000-12999) ==========

	StorageUnavailable ErrorCode = 12000
	BlobFetchFailed    ErrorCode = 12001
	BlobTooLarge       ErrorCode = 12002
	HashMismatch       ErrorCode = 12003

	CatalogUnavailable ErrorCode = 12100
	ProblemNotFound    ErrorCode = 12101
	TestCasesMissing   ErrorCode = 12102

	// ========== Submission & Judge Errors (13000-13999) ==========

	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	CodeRejected         ErrorCode = 13004

	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	CheckerFailed       ErrorCode = 13107

	// ========== Sandbox Errors (14000-14999) ==========

	SandboxUnavailable ErrorCode = 14000
	BoxInitFailed      ErrorCode = 14001
	BoxCleanupFailed   ErrorCode = 14002
	MetaFileMissing    ErrorCode = 14003
	MetaParseFailed    ErrorCode = 14004

	// ========== Worker Pool Errors (15000-15999) ==========

	PoolNotRunning  ErrorCode = 15000
	PoolFull        ErrorCode = 15001
	WorkerUnhealthy ErrorCode = 15002
	ScaleRejected   ErrorCode = 15003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	CircuitOpen: "Circuit breaker is open",

	QueueUnavailable:   "Message queue unavailable",
	PublishFailed:      "Failed to publish message",
	ConsumeFailed:      "Failed to consume message",
	MessageMalformed:   "Message body is malformed",
	AckFailed:          "Failed to acknowledge message",
	RetryExhausted:     "Message retries exhausted",
	TopologyDeclareErr: "Failed to declare queue topology",

	StorageUnavailable: "Object storage unavailable",
	BlobFetchFailed:    "Failed to fetch blob",
	BlobTooLarge:       "Blob exceeds size limit",
	HashMismatch:       "Blob content hash mismatch",
	CatalogUnavailable: "Problem catalog unavailable",
	ProblemNotFound:    "Problem not found",
	TestCasesMissing:   "Problem has no test cases",

	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	CodeRejected:         "Code rejected by security validation",
	JudgeSystemError:     "Judge system error",
	CompilationError:     "Compilation error",
	RuntimeError:         "Runtime error",
	TimeLimitExceeded:    "Time limit exceeded",
	MemoryLimitExceeded:  "Memory limit exceeded",
	OutputLimitExceeded:  "Output limit exceeded",
	CheckerFailed:        "Custom checker failed",

	SandboxUnavailable: "Sandbox unavailable",
	BoxInitFailed:      "Failed to initialize sandbox box",
	BoxCleanupFailed:   "Failed to clean up sandbox box",
	MetaFileMissing:    "Sandbox meta file is missing",
	MetaParseFailed:    "Failed to parse sandbox meta file",

	PoolNotRunning:  "Worker pool is not running",
	PoolFull:        "Worker pool is full",
	WorkerUnhealthy: "Worker is unhealthy",
	ScaleRejected:   "Scaling request rejected",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SubmissionNotFound, c == ProblemNotFound, c == RecordNotFound:
		return 404
	case c == TooManyRequests, c == PoolFull:
		return 429
	case c == ServiceUnavailable, c == QueueUnavailable, c == StorageUnavailable,
		c == CatalogUnavailable, c == SandboxUnavailable, c == CircuitOpen:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == MessageMalformed:
		return 400
	default:
		return 500
	}
}
