package token

import "errors"

var (
	// ErrCredentialNotFound means no install record exists; the tenant must reinstall.
	ErrCredentialNotFound = errors.New("token: credential not found")
	// ErrInvalidCredential means the stored access token could not be decoded.
	ErrInvalidCredential = errors.New("token: invalid credential")
	// ErrRefreshFailed means a refresh or derivation exchange was rejected.
	ErrRefreshFailed = errors.New("token: refresh failed")
)

// IsReauthorizationRequired reports whether err is one of the terminal
// outcomes that require the tenant to reinstall the app.
func IsReauthorizationRequired(err error) bool {
	return errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrRefreshFailed)
}
