package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alzheon/alzheon/internal/platform/notification"
)

// 08:30 on a Sunday; a 10:00 slot is still ahead today.
var serviceNow = time.Date(2024, time.March, 10, 8, 30, 0, 0, time.UTC)

func newTestService() (*Service, *memoryRepo, *notification.MockEmailSender) {
	repo := newMemoryRepo()
	mailer := &notification.MockEmailSender{}
	svc := NewService(repo, mailer, nil, time.UTC)
	svc.now = func() time.Time { return serviceNow }
	return svc, repo, mailer
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestService_GetCreatesDefaults(t *testing.T) {
	svc, repo, _ := newTestService()

	st, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := st.Recordatorios
	if r.Enabled || r.Hour != DefaultHour || r.Frequency != FrequencyDaily || r.NextSession != nil {
		t.Errorf("unexpected defaults %+v", r)
	}

	again, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != st.ID || len(repo.order) != 1 {
		t.Errorf("expected a single settings document, got %d", len(repo.order))
	}
}

func TestService_GetRequiresUser(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_EnableComputesNextSession(t *testing.T) {
	svc, _, _ := newTestService()

	st, err := svc.UpdateReminders(context.Background(), "u1", UpdateRemindersInput{
		Enabled:             boolPtr(true),
		Hour:                strPtr(" 10:00 "),
		MotivationalMessage: strPtr("  Vamos  "),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.March, 10, 10, 0, 0, 0, time.UTC)
	r := st.Recordatorios
	if !r.Enabled || r.NextSession == nil || !r.NextSession.Equal(want) {
		t.Errorf("expected nextSession %s, got %+v", want, r)
	}
	if r.Hour != "10:00" || r.MotivationalMessage != "Vamos" {
		t.Errorf("expected trimmed values, got %+v", r)
	}
}

func TestService_UpdateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   UpdateRemindersInput
	}{
		{"bad hour", UpdateRemindersInput{Hour: strPtr("25:00")}},
		{"hour without minutes", UpdateRemindersInput{Hour: strPtr("10")}},
		{"bad frequency", UpdateRemindersInput{Frequency: strPtr("mensual")}},
		{"long message", UpdateRemindersInput{MotivationalMessage: strPtr(strings.Repeat("a", maxMessageLen+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			if _, err := svc.UpdateReminders(context.Background(), "u1", tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestService_DisableClearsNextSession(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	st, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Enabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if st.Recordatorios.Enabled || st.Recordatorios.NextSession != nil {
		t.Errorf("expected disabled with no next session, got %+v", st.Recordatorios)
	}
}

func TestService_UnchangedSlotKeepsNextSession(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	first, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Enabled: boolPtr(true)})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	svc.now = func() time.Time { return serviceNow.Add(3 * time.Hour) }
	st, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{MotivationalMessage: strPtr("Nuevo")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !st.Recordatorios.NextSession.Equal(*first.Recordatorios.NextSession) {
		t.Errorf("expected nextSession to be kept, got %s want %s", st.Recordatorios.NextSession, first.Recordatorios.NextSession)
	}
}

func TestService_ChangedSlotRecomputes(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	st, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Hour: strPtr("08:00"), Frequency: strPtr("semanal")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// 08:00 already passed today: tomorrow plus six days.
	want := time.Date(2024, time.March, 17, 8, 0, 0, 0, time.UTC)
	if !st.Recordatorios.NextSession.Equal(want) {
		t.Errorf("expected %s, got %s", want, st.Recordatorios.NextSession)
	}
}

func TestService_SendTest(t *testing.T) {
	svc, repo, mailer := newTestService()
	ctx := context.Background()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana", Email: "ana@example.com"}
	before, err := svc.UpdateReminders(ctx, "u1", UpdateRemindersInput{Enabled: boolPtr(true), MotivationalMessage: strPtr("Hoy sí")})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := svc.SendTest(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := mailer.Calls()
	if len(calls) != 1 || calls[0].To != "ana@example.com" || !strings.Contains(calls[0].Body, "Hoy sí") {
		t.Errorf("unexpected mail %+v", calls)
	}
	after, _ := svc.Get(ctx, "u1")
	if !after.Recordatorios.NextSession.Equal(*before.Recordatorios.NextSession) {
		t.Error("test send must not move nextSession")
	}
}

func TestService_SendTestNoEmail(t *testing.T) {
	svc, repo, mailer := newTestService()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana"}

	if err := svc.SendTest(context.Background(), "u1"); !errors.Is(err, ErrNoEmail) {
		t.Errorf("expected ErrNoEmail, got %v", err)
	}
	if len(mailer.Calls()) != 0 {
		t.Error("expected no mail")
	}
}

func TestService_SendTestMailerFailure(t *testing.T) {
	svc, repo, mailer := newTestService()
	repo.users["u1"] = &Recipient{ID: "u1", Nombre: "Ana", Email: "ana@example.com"}
	mailer.ShouldFail = true

	err := svc.SendTest(context.Background(), "u1")
	if err == nil || errors.Is(err, ErrNoEmail) {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}
