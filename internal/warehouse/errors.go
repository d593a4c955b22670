package warehouse

import (
	"errors"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"
)

// Snowflake error codes that indicate an expired or invalid authentication
// token. Such failures are recovered by replacing the session, not by plain
// retry.
const (
	errCodeTokenExpired = 390114
	errCodeAuthFailed   = 250001
)

// authErrorSignatures are vendor error-text fragments that identify an
// authentication/token-expiry failure when no structured error is available.
var authErrorSignatures = []string{
	"Authentication token has expired",
	"JWT token is invalid",
	"Authentication failed",
	"390114",
	"250001",
}

// IsAuthError reports whether an error is an authentication/token-expiry
// failure requiring a session refresh. Structured driver errors are checked
// by code first, falling back to substring matching on the error text.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		if sfErr.Number == errCodeTokenExpired || sfErr.Number == errCodeAuthFailed {
			return true
		}
	}

	text := err.Error()
	for _, signature := range authErrorSignatures {
		if strings.Contains(text, signature) {
			return true
		}
	}

	return false
}
