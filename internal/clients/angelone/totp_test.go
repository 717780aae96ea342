package angelone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B vectors, truncated to six digits.
func TestTOTP_RFCVectors(t *testing.T) {
	// base32 of "12345678901234567890"
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

	tests := []struct {
		unix int64
		want string
	}{
		{unix: 59, want: "287082"},
		{unix: 1111111109, want: "081804"},
		{unix: 1234567890, want: "005924"},
		{unix: 2000000000, want: "279037"},
	}

	for _, tt := range tests {
		got, err := TOTP(secret, time.Unix(tt.unix, 0))
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "t=%d", tt.unix)
	}
}

func TestTOTP_BadSecret(t *testing.T) {
	_, err := TOTP("not base32 !!", time.Now())
	require.Error(t, err)
}
