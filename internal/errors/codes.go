// Package errors provides structured error handling for Schemadex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Manifest and file IO errors
//   - 3XX: Embedding provider / network errors
//   - 4XX: Validation and query errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates manifest, file, and index IO errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates embedding-provider network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error; the run must abort
	// with no partial state committed.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the run continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Manifest and IO errors (200-299)
	ErrCodeManifestNotFound = "ERR_201_MANIFEST_NOT_FOUND"
	ErrCodeManifestInvalid  = "ERR_202_MANIFEST_INVALID"
	ErrCodeFileMissing      = "ERR_203_FILE_MISSING"
	ErrCodeHashMismatch     = "ERR_204_HASH_MISMATCH"
	ErrCodeStoreOpen        = "ERR_205_STORE_OPEN"
	ErrCodeCorruptIndex     = "ERR_206_CORRUPT_INDEX"

	// Provider / network errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimit   = "ERR_302_PROVIDER_RATE_LIMIT"
	ErrCodeProviderUnavailable = "ERR_303_PROVIDER_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeParseFailed     = "ERR_503_PARSE_FAILED"
	ErrCodeIndexFailed     = "ERR_504_INDEX_FAILED"
	ErrCodeSearchFailed    = "ERR_505_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeManifestNotFound, ErrCodeManifestInvalid, ErrCodeStoreOpen, ErrCodeCorruptIndex, ErrCodeConfigInvalid:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a transient error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderRateLimit, ErrCodeProviderUnavailable:
		return true
	default:
		return false
	}
}
