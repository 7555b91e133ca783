package core

// error_messages.go maps technical errors to messages an operator can act on.
//
// Each message carries a code that support staff can look up here.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large"
//	FILE002 - No data rows after blank lines are dropped
//	          Patterns: "no data found"
//	FILE003 - Encoding error
//	          Patterns: "encoding error"
//	FILE004 - No file in the request
//	          Patterns: "no file provided"
//
// # Column Errors (COL001-COL099)
//
//	COL001 - Query column not found; the response lists available headers
//	         Patterns: "column not found"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run cancelled before every row completed
//	         Patterns: "run cancelled"
//	RUN002 - All run slots busy
//	         Patterns: "too many concurrent runs"
//	RUN003 - Unknown or expired run ID
//	         Patterns: "run not found"
//	RUN004 - Request cancelled
//	         Patterns: "context canceled"
//	RUN005 - Request timed out
//	         Patterns: "context deadline exceeded"
//	RUN006 - Export or link asked for before the run finished
//	         Patterns: "run still in progress"
//
// # Resolver and Storage Errors
//
//	RES001 - Resolution service unreachable or misbehaving
//	         Patterns: "resolver unavailable"
//	ART001 - Export storage not configured
//	         Patterns: "artifact store disabled"
//	ART002 - Run finished without a stored export
//	         Patterns: "artifact not found"
//
// # Rate Limiting
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Default
//
//	ERR000 - Anything else. Check the logs for the technical error.
//
// Patterns match case-insensitively with strings.Contains. The first match
// wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no data found",
		msg: UserMessage{
			Message: "The file contains no data rows",
			Action:  "Check that the file has a header line followed by at least one row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or TSV file to resolve",
			Code:    "FILE004",
		},
	},

	// Column errors
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "The query column was not found in the file",
			Action:  "Pick one of the available columns and try again",
			Code:    "COL001",
		},
	},

	// Run errors
	{
		pattern: "run cancelled",
		msg: UserMessage{
			Message: "Run was cancelled",
			Action:  "Start a new run when ready",
			Code:    "RUN001",
		},
	},
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "System is busy processing other runs",
			Action:  "Please wait a moment and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Run not found",
			Action:  "The run may have expired. Please start a new run",
			Code:    "RUN003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "RUN005",
		},
	},
	{
		pattern: "run still in progress",
		msg: UserMessage{
			Message: "The run has not finished yet",
			Action:  "Wait for the run to complete and try again",
			Code:    "RUN006",
		},
	},

	// Resolver and storage
	{
		pattern: "resolver unavailable",
		msg: UserMessage{
			Message: "Resolution service is unavailable",
			Action:  "Please try again in a few moments",
			Code:    "RES001",
		},
	},
	{
		pattern: "artifact store disabled",
		msg: UserMessage{
			Message: "Export storage is not configured",
			Action:  "Download the export directly instead",
			Code:    "ART001",
		},
	},
	{
		pattern: "artifact not found",
		msg: UserMessage{
			Message: "No stored export exists for this run",
			Action:  "Only completed runs have a stored export",
			Code:    "ART002",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserHints returns the hints attached to err with errors.WithHint, such as
// the available headers of a ColumnNotFoundError.
func UserHints(err error) []string {
	if err == nil {
		return nil
	}
	return errors.GetAllHints(err)
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
