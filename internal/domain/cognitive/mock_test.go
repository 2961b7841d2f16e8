package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/internal/platform/gemini"
	"github.com/alzheon/alzheon/pkg/pagination"
)

func page[T any](items []T, p pagination.Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if p.Limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// -- Templates --

type mockTemplateRepo struct {
	mu    sync.Mutex
	items map[string]*TestTemplate
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{items: make(map[string]*TestTemplate)}
}

func (m *mockTemplateRepo) Create(_ context.Context, t *TestTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.items[t.ID] = &c
	return nil
}

func (m *mockTemplateRepo) GetByID(_ context.Context, id string) (*TestTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *mockTemplateRepo) List(_ context.Context, p pagination.Params) ([]*TestTemplate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*TestTemplate, 0, len(m.items))
	for _, t := range m.items {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Nombre < all[j].Nombre })
	return page(all, p), len(all), nil
}

func (m *mockTemplateRepo) ListByIDs(_ context.Context, ids []string) ([]*TestTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*TestTemplate{}
	for _, id := range ids {
		if t, ok := m.items[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// -- Assignments --

type mockAssignmentRepo struct {
	mu    sync.Mutex
	items []*Assignment
}

func (m *mockAssignmentRepo) Create(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	c.Template = nil
	m.items = append(m.items, &c)
	return nil
}

func (m *mockAssignmentRepo) GetByID(_ context.Context, id string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockAssignmentRepo) List(_ context.Context, f AssignmentFilter, p pagination.Params) ([]*Assignment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Assignment
	for _, a := range m.items {
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.Estado != "" && a.Estado != f.Estado {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return page(out, p), len(out), nil
}

func (m *mockAssignmentRepo) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ID == id {
			a.Estado = EstadoCompletada
			return nil
		}
	}
	return ErrNotFound
}

// -- Submissions --

type mockSubmissionRepo struct {
	mu        sync.Mutex
	items     []*Submission
	createErr error
}

func (m *mockSubmissionRepo) Create(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	c := *s
	m.items = append(m.items, &c)
	return nil
}

func (m *mockSubmissionRepo) GetByID(_ context.Context, id string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.ID == id {
			c := *s
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockSubmissionRepo) ListByAssignment(_ context.Context, assignmentID string) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Submission{}
	for _, s := range m.items {
		if s.AssignmentID == assignmentID {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockSubmissionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// -- Users --

type mockDirectory struct {
	users map[string]*identity.User
}

func (m *mockDirectory) GetUser(_ context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

// -- Analyzer --

type analyzerReply struct {
	raw string
	err error
}

// fakeAnalyzer replays replies in order. With block set it waits for the
// attempt context to end instead.
type fakeAnalyzer struct {
	mu         sync.Mutex
	configured bool
	replies    []analyzerReply
	block      bool
	calls      int
	lastReq    gemini.Request
}

func (f *fakeAnalyzer) Configured() bool { return f.configured }

func (f *fakeAnalyzer) Analyze(ctx context.Context, req gemini.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	var r analyzerReply
	if len(f.replies) > 0 {
		r = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.raw == "" {
		return nil, errors.New("no reply configured")
	}
	return json.RawMessage(r.raw), nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const sampleAnalysis = `{"tipoTest":"reloj","resumen":"Trazo completo con números bien distribuidos.",` +
	`"indicadores":[{"nombre":"planificación","nivel":"alto"},{"nombre":"atención","nivel":"medio"}],` +
	`"utilParaComparacion":{"valor":true,"motivo":"imagen nítida"},"alertas":[],` +
	`"calidadArchivo":{"nivel":"buena","motivo":"sin recortes"},` +
	`"recomendacionMedico":"Repetir en tres meses.","disclaimer":"No es un diagnóstico."}`
