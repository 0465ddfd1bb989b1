package apperrors

// Code is the stable machine-readable identifier carried by every error response.
type Code string

const (
	// Upload validation
	CodeMissingFile         Code = "MISSING_FILE"
	CodeFileTooLarge        Code = "FILE_TOO_LARGE"
	CodeUnsupportedFileType Code = "UNSUPPORTED_FILE_TYPE"
	CodeFileLimitExceeded   Code = "FILE_LIMIT_EXCEEDED"
	CodeInvalidFilename     Code = "INVALID_FILENAME"

	// Rename and comment validation
	CodeEmptyFilename     Code = "EMPTY_FILENAME"
	CodeInvalidCharacters Code = "INVALID_CHARACTERS"
	CodeFilenameTooLong   Code = "FILENAME_TOO_LONG"
	CodeCommentTooLong    Code = "COMMENT_TOO_LONG"

	// Generic request validation
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Lookup
	CodeFileNotFound Code = "FILE_NOT_FOUND"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUserNotFound Code = "USER_NOT_FOUND"

	// Authorization
	CodeAccessDenied            Code = "ACCESS_DENIED"
	CodeSelfModificationDenied  Code = "SELF_MODIFICATION_DENIED"
	CodeSelfDeleteDenied        Code = "SELF_DELETE_DENIED"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"

	// Authentication
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"

	// Concurrency and throttling
	CodeConflict    Code = "CONFLICT"
	CodeRateLimited Code = "RATE_LIMITED"

	// Server faults
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeInternal       Code = "INTERNAL_ERROR"
)
