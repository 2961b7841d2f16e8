package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const testSecret = "test-secret-key-for-unit-tests-only"

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, UserIDFromContext(c.Request().Context())+"|"+RoleFromContext(c.Request().Context()))
}

func runMiddleware(t *testing.T, req *http.Request, ti *TokenIssuer) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := JWTMiddleware(JWTConfig{Issuer: ti})(okHandler)
	return rec, h(c)
}

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Hour)
	tok, exp, err := ti.Issue("user-1", "medico")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry should be in the future, got %s", exp)
	}

	claims, err := ti.Parse(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "medico" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenIssuer_IssueRequiresUser(t *testing.T) {
	if _, _, err := NewTokenIssuer(testSecret, time.Hour).Issue("", "medico"); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Minute)
	ti.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := ti.Issue("user-1", "paciente")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ti.now = time.Now
	if _, err := ti.Parse(tok); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	tok, _, _ := NewTokenIssuer("other-secret", time.Hour).Issue("user-1", "paciente")
	if _, err := NewTokenIssuer(testSecret, time.Hour).Parse(tok); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestTokenIssuer_RejectsNoneAlg(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: issuer}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokenIssuer(testSecret, time.Hour).Parse(tok); err == nil {
		t.Error("expected alg=none token to be rejected")
	}
}

func TestJWTMiddleware_MissingCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	_, err := runMiddleware(t, req, NewTokenIssuer(testSecret, time.Hour))

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			_, err := runMiddleware(t, req, NewTokenIssuer(testSecret, time.Hour))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_Bearer(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Hour)
	tok, _, _ := ti.Issue("user-7", "cuidador/familiar")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec, err := runMiddleware(t, req, ti)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "user-7|cuidador/familiar" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestJWTMiddleware_Cookie(t *testing.T) {
	ti := NewTokenIssuer(testSecret, time.Hour)
	tok, _, _ := ti.Issue("user-9", "paciente")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	rec, err := runMiddleware(t, req, ti)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "user-9|paciente" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/auth/login")

	h := JWTMiddleware(JWTConfig{Issuer: NewTokenIssuer(testSecret, time.Hour), Skipper: AuthSkipper})(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}

func TestSessionCookie(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	SetSessionCookie(c, "abc", time.Now().Add(time.Hour), true)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != CookieName || ck.Value != "abc" || !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteNoneMode {
		t.Errorf("unexpected cookie %+v", ck)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	ClearSessionCookie(c, false)
	ck = rec.Result().Cookies()[0]
	if ck.Value != "" || ck.MaxAge >= 0 {
		t.Errorf("expected expired cookie, got %+v", ck)
	}
}
