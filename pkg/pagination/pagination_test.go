package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/asignaciones"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextWithQuery(""))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Values(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"?limit=50&offset=10", 50, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-3&offset=-7", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextWithQuery(tt.query))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	if got := p.SQL(); got != "LIMIT 10 OFFSET 20" {
		t.Errorf("unexpected SQL %q", got)
	}
}

func TestFindOptions(t *testing.T) {
	opts := Params{Limit: 15, Offset: 30}.FindOptions()
	if opts.Limit == nil || *opts.Limit != 15 {
		t.Errorf("expected limit 15, got %v", opts.Limit)
	}
	if opts.Skip == nil || *opts.Skip != 30 {
		t.Errorf("expected skip 30, got %v", opts.Skip)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 25, Params{Limit: 10, Offset: 10})

	if resp.Total != 25 || resp.Limit != 10 || resp.Offset != 10 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore to be true")
	}

	last := NewResponse(nil, 25, Params{Limit: 10, Offset: 20})
	if last.HasMore {
		t.Error("expected HasMore to be false on the last page")
	}
}

func TestParams_NextOffset(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 20}).NextOffset(); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
}
