package errors

import "fmt"

// FlowErrorCode classifies failures of the client-side authorization flow.
type FlowErrorCode string

const (
	// FlowConfigError means the provider has no usable client
	// configuration; raised before any network or storage activity.
	FlowConfigError FlowErrorCode = "CONFIG_ERROR"
	// FlowCSRFMismatch means the redirect carried a state that does not
	// match the one this device generated.
	FlowCSRFMismatch FlowErrorCode = "CSRF_MISMATCH"
	// FlowCancelled means the user dismissed the browser session.
	FlowCancelled FlowErrorCode = "FLOW_CANCELLED"
	// FlowProviderError means the provider redirected back with an error
	// query parameter.
	FlowProviderError FlowErrorCode = "PROVIDER_ERROR"
	// FlowMissingCode means the redirect carried no authorization code.
	FlowMissingCode FlowErrorCode = "MISSING_CODE"
	// FlowVerifierNotFound means the PKCE verifier vanished from the
	// ephemeral store mid-flight.
	FlowVerifierNotFound FlowErrorCode = "VERIFIER_NOT_FOUND"
	// FlowExchangeFailed means the server-side code-for-token exchange
	// failed.
	FlowExchangeFailed FlowErrorCode = "EXCHANGE_FAILED"
)

// FlowError is a classified client-side authorization failure.
type FlowError struct {
	Code        FlowErrorCode `json:"error"`
	Description string        `json:"error_description,omitempty"`
	Err         error         `json:"-"`
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *FlowError) Unwrap() error { return e.Err }

// Is matches any FlowError with the same code, so callers can use
// errors.Is against the canonical values below.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	return ok && t.Code == e.Code
}

func NewConfigError(description string) *FlowError {
	return &FlowError{Code: FlowConfigError, Description: description}
}

func NewCSRFMismatch() *FlowError {
	return &FlowError{Code: FlowCSRFMismatch, Description: "returned state does not match the stored state"}
}

func NewFlowCancelled() *FlowError {
	return &FlowError{Code: FlowCancelled, Description: "authorization session was dismissed"}
}

func NewProviderError(description string) *FlowError {
	if description == "" {
		description = "provider returned an error"
	}
	return &FlowError{Code: FlowProviderError, Description: description}
}

func NewMissingCode() *FlowError {
	return &FlowError{Code: FlowMissingCode, Description: "redirect carried no authorization code"}
}

func NewVerifierNotFound() *FlowError {
	return &FlowError{Code: FlowVerifierNotFound, Description: "no PKCE verifier stored for this flow"}
}

func NewExchangeFailed(err error) *FlowError {
	return &FlowError{Code: FlowExchangeFailed, Description: "code-for-token exchange failed", Err: err}
}
