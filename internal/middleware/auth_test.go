package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-12345"

func protected(t *testing.T, secret string) http.Handler {
	t.Helper()
	return Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			w.Header().Set("X-Subject", claims["sub"].(string))
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestIssueAndValidateToken(t *testing.T) {
	token, err := IssueToken(testSecret, "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims["sub"] != "dashboard" || claims["scope"] != "read" {
		t.Errorf("unexpected claims: %v", claims)
	}

	if _, err := ValidateToken(token, "wrong-secret"); err == nil {
		t.Error("token signed with another secret should fail")
	}

	expired, _ := IssueToken(testSecret, "dashboard", -time.Minute)
	if _, err := ValidateToken(expired, testSecret); err == nil {
		t.Error("expired token should fail")
	}

	if _, err := IssueToken("", "dashboard", time.Hour); err == nil {
		t.Error("issuing without a secret should fail")
	}
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(time.Hour).Unix()})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateToken(signed, testSecret); err == nil {
		t.Error("HS512 token should be refused")
	}
}

func TestAuthMiddleware(t *testing.T) {
	token, _ := IssueToken(testSecret, "dashboard", time.Hour)

	tests := []struct {
		name   string
		secret string
		header string
		query  string
		want   int
	}{
		{"no secret passes through", "", "", "", http.StatusOK},
		{"missing header", testSecret, "", "", http.StatusUnauthorized},
		{"malformed header", testSecret, "Token " + token, "", http.StatusUnauthorized},
		{"bad token", testSecret, "Bearer nope", "", http.StatusUnauthorized},
		{"valid header", testSecret, "Bearer " + token, "", http.StatusOK},
		{"valid query token", testSecret, "", token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/status"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			protected(t, tt.secret).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusOK && tt.secret != "" && rr.Header().Get("X-Subject") != "dashboard" {
				t.Error("claims should be available to the handler")
			}
		})
	}
}
