package warehouse

import (
	"errors"
	"fmt"
	"testing"

	sf "github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "structured token expiry code",
			err:  &sf.SnowflakeError{Number: 390114, Message: "token expired"},
			want: true,
		},
		{
			name: "structured auth failure code",
			err:  &sf.SnowflakeError{Number: 250001, Message: "could not authenticate"},
			want: true,
		},
		{
			name: "structured unrelated code",
			err:  &sf.SnowflakeError{Number: 2003, Message: "SQL compilation error"},
			want: false,
		},
		{
			name: "wrapped structured error",
			err:  fmt.Errorf("flushing channel: %w", &sf.SnowflakeError{Number: 390114}),
			want: true,
		},
		{
			name: "token expiry text",
			err:  errors.New("Authentication token has expired"),
			want: true,
		},
		{
			name: "jwt invalid text",
			err:  errors.New("JWT token is invalid"),
			want: true,
		},
		{
			name: "auth failed text",
			err:  errors.New("Authentication failed for user PIPELINE_USER"),
			want: true,
		},
		{
			name: "network failure is not auth",
			err:  errors.New("dial tcp 10.0.0.5:443: connection refused"),
			want: false,
		},
		{
			name: "constraint violation is not auth",
			err:  errors.New("NULL result in a non-nullable column"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthError(tt.err))
		})
	}
}
