package errors

import "fmt"

// RefreshErrorCode classifies failures of the server-side token refresh path.
type RefreshErrorCode string

const (
	// RefreshInProgress means another worker holds the refresh lock and
	// had not finished within the wait window. Transient: back off and
	// retry.
	RefreshInProgress RefreshErrorCode = "REFRESH_IN_PROGRESS"
	// RefreshFailed is a transient provider failure (5xx, 429, malformed
	// body). No state was mutated; the stored credential is still good.
	RefreshFailed RefreshErrorCode = "REFRESH_FAILED"
	// RefreshFailedPermanent means the provider rejected the refresh
	// token itself. The connection was marked EXPIRED; only a fresh
	// authorization flow recovers it.
	RefreshFailedPermanent RefreshErrorCode = "REFRESH_FAILED_PERMANENT"
	// InvalidProvider is a programmer error: the connection names a
	// provider this build does not know.
	InvalidProvider RefreshErrorCode = "INVALID_PROVIDER"
	// DecryptionFailed means the stored ciphertext could not be opened.
	// Data corruption; nothing was mutated.
	DecryptionFailed RefreshErrorCode = "DECRYPTION_FAILED"
	// ConnectionNotFound means the connection row no longer exists.
	// Callers should stop retrying.
	ConnectionNotFound RefreshErrorCode = "CONNECTION_NOT_FOUND"
)

// RefreshError is a classified token-refresh failure. All refresh errors
// propagate typed to the caller; the refresh lock is always released before
// one surfaces.
type RefreshError struct {
	Code        RefreshErrorCode `json:"error"`
	Description string           `json:"error_description,omitempty"`
	Err         error            `json:"-"`
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is matches any RefreshError with the same code.
func (e *RefreshError) Is(target error) bool {
	t, ok := target.(*RefreshError)
	return ok && t.Code == e.Code
}

// Canonical values for errors.Is comparisons.
var (
	ErrRefreshInProgress  = &RefreshError{Code: RefreshInProgress}
	ErrRefreshFailed      = &RefreshError{Code: RefreshFailed}
	ErrRefreshPermanent   = &RefreshError{Code: RefreshFailedPermanent}
	ErrInvalidProvider    = &RefreshError{Code: InvalidProvider}
	ErrDecryptionFailed   = &RefreshError{Code: DecryptionFailed}
	ErrConnectionNotFound = &RefreshError{Code: ConnectionNotFound}
)

func NewRefreshInProgress(connectionID string) *RefreshError {
	return &RefreshError{Code: RefreshInProgress, Description: fmt.Sprintf("refresh of connection %s is held by another worker", connectionID)}
}

func NewRefreshFailed(description string, err error) *RefreshError {
	return &RefreshError{Code: RefreshFailed, Description: description, Err: err}
}

func NewRefreshFailedPermanent(description string) *RefreshError {
	return &RefreshError{Code: RefreshFailedPermanent, Description: description}
}

func NewInvalidProvider(provider string) *RefreshError {
	return &RefreshError{Code: InvalidProvider, Description: fmt.Sprintf("provider %q is not configured", provider)}
}

func NewDecryptionFailed(err error) *RefreshError {
	return &RefreshError{Code: DecryptionFailed, Description: "stored token ciphertext could not be decrypted", Err: err}
}

func NewConnectionNotFound(connectionID string) *RefreshError {
	return &RefreshError{Code: ConnectionNotFound, Description: fmt.Sprintf("connection %s does not exist", connectionID)}
}
