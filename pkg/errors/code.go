package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem catalog errors
// 13000-13999: Submission & Execution errors

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

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Message queue errors (10400-10499)
	QueueError ErrorCode = 10400

	// ========== Problem Catalog Errors (12000-12999) ==========

	ProblemNotFound ErrorCode = 12000
	CatalogInvalid  ErrorCode = 12001

	// ========== Submission & Execution Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	NoTestCases          ErrorCode = 13007
	InputTooLarge        ErrorCode = 13008
	SubmissionFinished   ErrorCode = 13009
	TooManyTestCases     ErrorCode = 13010
	InvalidSubmissionID  ErrorCode = 13011

	// Execution (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	IsolationFailure    ErrorCode = 13110
	SandboxUnavailable  ErrorCode = 13111
	InvalidStateChange  ErrorCode = 13112
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Queue
	QueueError: "Message queue operation failed",

	// Problem catalog
	ProblemNotFound: "Problem not found",
	CatalogInvalid:  "Problem catalog is invalid",

	// Submission
	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	NoTestCases:          "Submission has no test cases",
	InputTooLarge:        "Test case input is too large",
	SubmissionFinished:   "Submission has already finished",
	TooManyTestCases:     "Submission has too many test cases",
	InvalidSubmissionID:  "Invalid submission id",

	// Execution
	JudgeQueueFull:      "Judge queue is full, please try again later",
	JudgeSystemError:    "Judge system error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	IsolationFailure:    "Sandbox could not be constructed or torn down",
	SandboxUnavailable:  "Sandbox is failing for every execution",
	InvalidStateChange:  "Invalid submission state transition",
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
	case c == NotFound, c == SubmissionNotFound, c == ProblemNotFound:
		return 404
	case c == SubmissionFinished:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull, c == SandboxUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == NoTestCases,
		c == InputTooLarge, c == TooManyTestCases, c == InvalidSubmissionID:
		return 400
	default:
		return 500
	}
}

// IsValidation reports whether the code belongs to the request validation family.
func (c ErrorCode) IsValidation() bool {
	switch c {
	case ValidationFailed, InvalidFormat, InvalidValue, RequiredFieldEmpty, InvalidParams,
		CodeTooLarge, LanguageNotSupported, NoTestCases, InputTooLarge, TooManyTestCases, InvalidSubmissionID:
		return true
	}
	return false
}
