package core

// errors.go maps technical errors to coded, user-facing messages.
//
// Codes are grouped by category:
//
//	WF001   - Engine not initialized
//	WF002   - Too many workflows running
//	WF003   - Workflow not found
//	WF004   - Request cancelled or timed out
//	WF005   - Workflow type disabled
//	SRC001  - Unknown source type
//	SRC002  - Source file unreadable or unsupported
//	SRC003  - File too large
//	SYNC001 - Destination unreachable
//	SYNC002 - Voucher not found in the queue
//	SYNC003 - Invalid sync status transition
//	SYNC004 - Conflict not found or already resolved
//	VAL001  - Invalid request
//	VAL002  - Invalid date
//	VAL003  - Invalid amount
//	RULE001 - Rule not found
//	RULE002 - Rule failed validation
//	ERR000  - Fallback when no pattern matches
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned by pipeline operations before Initialize succeeds.
	ErrNotInitialized = errors.New("automation engine not initialized")

	// ErrTooManyWorkflows is returned when all workflow slots stay occupied
	// for the limiter's wait time.
	ErrTooManyWorkflows = errors.New("too many concurrent workflows, please try again later")

	// ErrWorkflowNotFound is returned for unknown workflow ids.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowDisabled is returned when the workflow type is switched off in settings.
	ErrWorkflowDisabled = errors.New("workflow type disabled")

	// ErrConflictNotFound is returned for unknown or already resolved conflicts.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrRuleNotFound is returned for unknown rule ids.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidOptions wraps struct validation failures of Options and rules.
	ErrInvalidOptions = errors.New("invalid request")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Workflow
	{
		pattern: "not initialized",
		msg: UserMessage{
			Message: "The automation engine is not running",
			Action:  "Check the destination connection and restart the service",
			Code:    "WF001",
		},
	},
	{
		pattern: "too many concurrent workflows",
		msg: UserMessage{
			Message: "System is busy processing other workflows",
			Action:  "Please wait a moment and try again",
			Code:    "WF002",
		},
	},
	{
		pattern: "workflow not found",
		msg: UserMessage{
			Message: "Workflow not found",
			Action:  "The workflow may have been evicted from history",
			Code:    "WF003",
		},
	},
	{
		pattern: "workflow type disabled",
		msg: UserMessage{
			Message: "This workflow type is turned off",
			Action:  "Enable it with the WORKFLOW_* settings",
			Code:    "WF005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "WF004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "WF004",
		},
	},

	// Sources
	{
		pattern: "unknown source type",
		msg: UserMessage{
			Message: "Unknown document source",
			Action:  "Check AUTO_COLLECTION_SOURCES and the configured folders",
			Code:    "SRC001",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "Document exceeds the maximum size",
			Action:  "Split the file into smaller parts",
			Code:    "SRC003",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Document format is not supported",
			Action:  "Use JSON, CSV, XLSX or TXT files",
			Code:    "SRC002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "Document could not be parsed",
			Action:  "Ensure the file is comma-separated with a header row",
			Code:    "SRC002",
		},
	},
	{
		pattern: "invalid json",
		msg: UserMessage{
			Message: "Document could not be parsed",
			Action:  "Ensure the file holds a JSON object or array of objects",
			Code:    "SRC002",
		},
	},

	// Sync and queue
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the accounting system",
			Action:  "Check that the destination is running and reachable",
			Code:    "SYNC001",
		},
	},
	{
		pattern: "destination",
		msg: UserMessage{
			Message: "The accounting system rejected the request",
			Action:  "Check the destination logs and API key",
			Code:    "SYNC001",
		},
	},
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "Voucher not found",
			Action:  "Refresh the list of failed vouchers",
			Code:    "SYNC002",
		},
	},
	{
		pattern: "invalid sync status transition",
		msg: UserMessage{
			Message: "Voucher is not in a state that allows this action",
			Action:  "Only permanently failed vouchers can be retried",
			Code:    "SYNC003",
		},
	},
	{
		pattern: "conflict not found",
		msg: UserMessage{
			Message: "Conflict not found or already resolved",
			Action:  "Refresh the list of open conflicts",
			Code:    "SYNC004",
		},
	},

	// Validation
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, DD/MM/YYYY, or Jan 15, 2024",
			Code:    "VAL002",
		},
	},
	{
		pattern: "invalid amount",
		msg: UserMessage{
			Message: "Invalid amount detected",
			Action:  "Use a plain decimal number",
			Code:    "VAL003",
		},
	},

	// Rules
	{
		pattern: "rule not found",
		msg: UserMessage{
			Message: "Automation rule not found",
			Action:  "Verify the rule id",
			Code:    "RULE001",
		},
	},
	{
		pattern: "invalid rule",
		msg: UserMessage{
			Message: "Automation rule is not valid",
			Action:  "Rules need a name, at least one trigger and collect/sync actions",
			Code:    "RULE002",
		},
	},

	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "Request is not valid",
			Action:  "Check the request fields and try again",
			Code:    "VAL001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
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

// FormatUserError creates a display string: "Message (Code: XXX). Action".
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
