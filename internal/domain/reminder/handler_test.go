package reminder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/alzheon/alzheon/internal/platform/auth"
	"github.com/alzheon/alzheon/internal/platform/notification"
)

func newTestHandler() (*Handler, *memoryRepo, *notification.MockEmailSender, *echo.Echo) {
	svc, repo, mailer := newTestService()
	return NewHandler(svc, zerolog.Nop()), repo, mailer, echo.New()
}

func userRequest(method, path, body, userID string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(req.Context(), userID, "paciente"))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_Get(t *testing.T) {
	h, _, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(userRequest(http.MethodGet, "/api/configuracion", "", "u1"), rec)

	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.UserID != "u1" || st.Recordatorios.Hour != DefaultHour {
		t.Errorf("unexpected settings %+v", st)
	}
	if strings.Contains(rec.Body.String(), "claim") {
		t.Errorf("claim fields must not be serialized: %s", rec.Body.String())
	}
}

func TestHandler_UpdateReminders(t *testing.T) {
	h, _, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	body := `{"enabled":true,"hour":"18:45","frequency":"cada_2_dias"}`
	c := e.NewContext(userRequest(http.MethodPut, "/api/configuracion/recordatorios", body, "u1"), rec)

	if err := h.UpdateReminders(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	r := st.Recordatorios
	if !r.Enabled || r.Hour != "18:45" || r.Frequency != FrequencyEveryOtherDay || r.NextSession == nil {
		t.Errorf("unexpected reminders %+v", r)
	}
}

func TestHandler_UpdateReminders_Invalid(t *testing.T) {
	h, _, _, e := newTestHandler()
	tests := []struct {
		name string
		body string
	}{
		{"bad hour", `{"hour":"9am"}`},
		{"bad frequency", `{"frequency":"anual"}`},
		{"malformed json", `{"enabled":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(userRequest(http.MethodPut, "/api/configuracion/recordatorios", tt.body, "u1"), httptest.NewRecorder())
			if code := statusOf(t, h.UpdateReminders(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_SendTest(t *testing.T) {
	h, repo, mailer, e := newTestHandler()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana", Email: "ana@example.com"}
	rec := httptest.NewRecorder()
	c := e.NewContext(userRequest(http.MethodPost, "/api/configuracion/recordatorios/test", "", "u1"), rec)

	if err := h.SendTest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || len(mailer.Calls()) != 1 {
		t.Errorf("expected 200 and one mail, got %d and %d", rec.Code, len(mailer.Calls()))
	}
}

func TestHandler_SendTest_MailerFailure(t *testing.T) {
	h, repo, mailer, e := newTestHandler()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana", Email: "ana@example.com"}
	mailer.ShouldFail = true
	c := e.NewContext(userRequest(http.MethodPost, "/api/configuracion/recordatorios/test", "", "u1"), httptest.NewRecorder())

	if code := statusOf(t, h.SendTest(c)); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
}

func TestHandler_SendTest_NoEmail(t *testing.T) {
	h, repo, _, e := newTestHandler()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana"}
	c := e.NewContext(userRequest(http.MethodPost, "/api/configuracion/recordatorios/test", "", "u1"), httptest.NewRecorder())

	if code := statusOf(t, h.SendTest(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api"))

	want := map[string]bool{
		"GET /api/configuracion":                     false,
		"PUT /api/configuracion/recordatorios":       false,
		"POST /api/configuracion/recordatorios/test": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("route %s not registered", k)
		}
	}
}
