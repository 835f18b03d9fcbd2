package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	iss, err := NewIssuer("s3cret")
	require.NoError(t, err)

	tok, err := iss.Sign("bus-7", RoleDriver, time.Hour)
	require.NoError(t, err)
	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "bus-7", claims.VehicleRef)
	assert.Equal(t, RoleDriver, claims.Role)

	other, _ := NewIssuer("different")
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = iss.Verify("garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss, _ := NewIssuer("s3cret")
	tok, err := iss.Sign("bus-7", RoleDriver, time.Minute)
	require.NoError(t, err)
	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("")
	assert.Error(t, err)
	_, err = (&Issuer{secret: []byte("x"), now: time.Now}).Sign("", RoleDriver, time.Hour)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	iss, _ := NewIssuer("s3cret")
	driver, _ := iss.Sign("bus-7", RoleDriver, time.Hour)
	viewer, _ := iss.Sign("bus-7", "viewer", time.Hour)

	var seen string
	h := iss.Middleware(RoleDriver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = c.VehicleRef
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewer, http.StatusForbidden},
		{"driver", "Bearer " + driver, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/trips/start", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}
	assert.Equal(t, "bus-7", seen)
}
