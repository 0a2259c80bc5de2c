package api

import (
	"unicode/utf8"
)

// maxUserIDLen is the maximum length for user identifiers.
const maxUserIDLen = 64

// maxNameLen is the maximum length for display names.
const maxNameLen = 200

// maxRoomNameLen is the maximum length for media room identifiers.
const maxRoomNameLen = 200

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateUserID checks a user identifier: required, bounded, no control characters.
func validateUserID(field, value string) string {
	if msg := validateRequiredStringLen(field, value, maxUserIDLen); msg != "" {
		return msg
	}
	return validateNoControlChars(field, value)
}

// validateCallType checks that a call type is "audio" or "video".
// Empty values are allowed (optional field).
func validateCallType(field, value string) string {
	if value == "" || value == "audio" || value == "video" {
		return ""
	}
	return field + " must be \"audio\" or \"video\""
}

// validateStatus checks that a status is one of the known call statuses.
func validateStatus(field, value string) string {
	switch value {
	case "", "ringing", "completed", "missed", "rejected", "failed":
		return ""
	}
	return field + " must be one of ringing, completed, missed, rejected, failed"
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}
