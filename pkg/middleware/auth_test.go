package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/utafrali/wishlist-rest/pkg/logger"
)

func stubValidator(token string) (Identity, error) {
	switch token {
	case "user-7":
		return Identity{UserID: 7, Role: "customer"}, nil
	case "admin":
		return Identity{UserID: 1, Role: "admin"}, nil
	}
	return Identity{}, errors.New("invalid token")
}

func runAuth(t *testing.T, header string) (Identity, int64) {
	t.Helper()
	var got Identity
	var logged int64
	h := Authenticate(stubValidator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		logged = logger.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/wishlists", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "authentication never rejects")
	return got, logged
}

func TestAuthenticate_ValidToken(t *testing.T) {
	id, logged := runAuth(t, "Bearer user-7")
	assert.Equal(t, Identity{UserID: 7, Role: "customer"}, id)
	assert.True(t, id.LoggedIn())
	assert.EqualValues(t, 7, logged)
}

func TestAuthenticate_SchemeIsCaseInsensitive(t *testing.T) {
	id, _ := runAuth(t, "bearer admin")
	assert.Equal(t, "admin", id.Role)
}

func TestAuthenticate_AnonymousCases(t *testing.T) {
	for name, header := range map[string]string{
		"missing":       "",
		"wrong scheme":  "Basic dXNlcjpwYXNz",
		"no token":      "Bearer",
		"invalid token": "Bearer forged",
	} {
		t.Run(name, func(t *testing.T) {
			id, logged := runAuth(t, header)
			assert.False(t, id.LoggedIn())
			assert.Zero(t, logged)
		})
	}
}
