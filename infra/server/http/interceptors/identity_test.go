package interceptors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityInterceptor(t *testing.T) {
	var seen string
	h := NewIdentityInterceptor()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetIdentity(r.Context())
	}))

	cases := []struct {
		name   string
		req    *http.Request
		status int
		want   string
	}{
		{"header", withHeader(httptest.NewRequest(http.MethodGet, "/", nil), "alice"), http.StatusOK, "alice"},
		{"query", httptest.NewRequest(http.MethodGet, "/?identity=bob", nil), http.StatusOK, "bob"},
		{"missing", httptest.NewRequest(http.MethodGet, "/", nil), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.want, seen)
		})
	}
}

func withHeader(r *http.Request, identity string) *http.Request {
	r.Header.Set(IdentityHeader, identity)
	return r
}
