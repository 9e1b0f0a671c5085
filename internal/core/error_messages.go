package core

// error_messages.go maps technical errors to messages users can act on.
// Each message carries a code users can quote to support.
//
// # Row and Resource Errors
//
//	ROW001 - A CSV row could not be mapped (short row or bad birth date)
//	DEC001 - A FHIR Patient document could not be decoded
//	PAT001 - No stored patient has the requested id
//
// # File Errors
//
//	FILE001 - Request body exceeds LOADER_MAX_FILE_SIZE
//	FILE002 - Request body is empty
//	FILE003 - The CSV source could not be read to the end
//
// # Load Errors
//
//	LOAD001 - All load slots are busy
//	LOAD002 - The request was cancelled
//	LOAD003 - The load timed out
//
// # Database Errors
//
//	DB001 - Duplicate key
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Deadlock
//	DB005 - Persistence is not configured
//
// # Export Errors
//
//	EXP001 - The FHIR server rejected or did not answer an export
//	EXP002 - Export is not configured
//
// # Fallback
//
//	GEN001 - Anything else. Check the logs for the technical error.
//
// Typed errors are matched first with errors.As / errors.Is. Anything left is
// matched case-insensitively against errorPatterns; the first match wins, so
// specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/export"
	"github.com/JonMunkholm/fhirmap/internal/loader"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
	"github.com/JonMunkholm/fhirmap/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgMalformedRow = UserMessage{
		Message: "A row in the file could not be mapped to a patient",
		Action:  "Check that the row has 25 columns and a YYYY-MM-DD birth date",
		Code:    "ROW001",
	}
	msgDecode = UserMessage{
		Message: "The document is not a valid FHIR Patient",
		Action:  "Send a Patient resource in FHIR R4 JSON format",
		Code:    "DEC001",
	}
	msgNotFound = UserMessage{
		Message: "Patient not found",
		Action:  "Check the id or load the patient first",
		Code:    "PAT001",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}
	msgEmptyBody = UserMessage{
		Message: "The request body is empty",
		Action:  "Send a patients CSV file with a header row",
		Code:    "FILE002",
	}
	msgReadFailed = UserMessage{
		Message: "The file could not be read completely",
		Action:  "Check the file and try again",
		Code:    "FILE003",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other loads",
		Action:  "Please wait a moment and try again",
		Code:    "LOAD001",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "LOAD002",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "LOAD003",
	}
	msgStoreDisabled = UserMessage{
		Message: "Patient storage is not configured",
		Action:  "Set DATABASE_URL to enable persistence",
		Code:    "DB005",
	}
	msgExport = UserMessage{
		Message: "The FHIR server did not accept the export",
		Action:  "Check the FHIR server and try again",
		Code:    "EXP001",
	}
	msgExportDisabled = UserMessage{
		Message: "Export is not configured",
		Action:  "Set FHIR_SERVER_URL to enable export",
		Code:    "EXP002",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Review the file for duplicate patient ids",
		Code:    "DB001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"file too large", msgTooLarge},
	{"request body too large", msgTooLarge},
	{"empty file", msgEmptyBody},
	{"too many concurrent loads", msgBusy},
	{"context canceled", msgCancelled},
	{"context deadline exceeded", msgTimeout},
	{"timeout", msgTimeout},
}

// defaultMessage is returned when nothing matches (GEN001).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "GEN001",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(&mapper.MalformedRowError{Fields: 10})
//	// msg.Code == "ROW001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		mre       *mapper.MalformedRowError
		de        *codec.DecodeError
		se        *export.StatusError
		readErr   *loader.ReadError
		userError *UserError
	)
	switch {
	case errors.As(err, &userError):
		return userError.User
	case errors.As(err, &mre):
		return msgMalformedRow
	case errors.As(err, &de):
		return msgDecode
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound
	case errors.Is(err, ErrTooLarge):
		return msgTooLarge
	case errors.Is(err, ErrEmptyBody):
		return msgEmptyBody
	case errors.Is(err, ErrTooManyLoads):
		return msgBusy
	case errors.Is(err, ErrStoreDisabled):
		return msgStoreDisabled
	case errors.Is(err, ErrExportDisabled):
		return msgExportDisabled
	case errors.As(err, &se):
		return msgExport
	case errors.As(err, &readErr):
		return msgReadFailed
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "export failed") {
		return msgExport
	}
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// the GEN001 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logs, with the message shown
// to users.
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

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
