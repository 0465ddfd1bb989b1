package guard

import (
	"strings"
	"unicode/utf8"

	"mycloud/internal/apperrors"
)

const forbiddenNameChars = "/\\:*?\"<>|\x00"

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// CheckRenameAllowed validates a new display name. Names with leading or
// trailing whitespace are rejected rather than silently trimmed.
func CheckRenameAllowed(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", apperrors.Validation(apperrors.CodeEmptyFilename, "file name is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxFilenameLength {
		return "", apperrors.Validation(apperrors.CodeFilenameTooLong, "file name is too long")
	}
	if strings.ContainsAny(trimmed, forbiddenNameChars) {
		return "", apperrors.Validation(apperrors.CodeInvalidCharacters, "file name contains forbidden characters")
	}
	if strings.HasPrefix(trimmed, ".") || strings.HasSuffix(trimmed, ".") {
		return "", apperrors.Validation(apperrors.CodeInvalidFilename, "file name must not start or end with a dot")
	}
	if trimmed != name {
		return "", apperrors.Validation(apperrors.CodeInvalidFilename, "file name must not start or end with a space")
	}
	if isReservedName(trimmed) {
		return "", apperrors.Validation(apperrors.CodeInvalidFilename, "file name is reserved")
	}
	return trimmed, nil
}

// isReservedName matches device names with or without an extension: "con", "NUL.txt".
func isReservedName(name string) bool {
	stem := name
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	_, ok := reservedNames[strings.ToUpper(strings.TrimSpace(stem))]
	return ok
}
