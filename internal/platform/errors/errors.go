package errors

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the error domain for engine errors.
const Domain = "github.com/tomaszsb/code2027"

// DefaultLocale tags localized messages when the caller has no locale.
const DefaultLocale = "en-US"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable reason
	Metadata map[string]string // Additional context (player, space, action key)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the domain code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToGRPCStatus converts the error to a gRPC status with errdetails.
// The status message contains the internal message for logging.
// The LocalizedMessage contains the user-facing message.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Message)

	st, err := st.WithDetails(
		&errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   Domain,
			Metadata: e.Metadata,
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: userMessage,
		},
	)
	if err != nil {
		return status.New(grpcCode, e.Message).Err()
	}
	return st.Err()
}

// Rejection is a domain error as a client sees it: the gRPC status code and
// the ErrorInfo reason and metadata, plus the failure family.
type Rejection struct {
	Code     Code
	Category Category
	Status   codes.Code
	Message  string
	Metadata map[string]string
}

// RejectionOf decodes err through its gRPC status. It reports false when err
// carries no domain error.
func RejectionOf(err error) (Rejection, bool) {
	var domainErr *Error
	if !errors.As(err, &domainErr) {
		return Rejection{}, false
	}
	st, ok := status.FromError(domainErr.ToGRPCStatus(DefaultLocale, domainErr.Message))
	if !ok {
		return Rejection{}, false
	}
	rej := Rejection{
		Code:    domainErr.Code,
		Status:  st.Code(),
		Message: st.Message(),
	}
	for _, detail := range st.Details() {
		switch typed := detail.(type) {
		case *errdetails.ErrorInfo:
			rej.Code = Code(typed.GetReason())
			rej.Metadata = typed.GetMetadata()
		case *errdetails.LocalizedMessage:
			rej.Message = typed.GetMessage()
		}
	}
	rej.Category = rej.Code.Category()
	return rej, true
}

// String renders the rejection for logs and command output.
func (r Rejection) String() string {
	return fmt.Sprintf("%s [%s, %s]: %s", r.Code, r.Category, r.Status, r.Message)
}
