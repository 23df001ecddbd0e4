package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliations"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  int
		offset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"custom", "?limit=50&offset=10", 50, 10},
		{"capped", "?limit=1000", MaxLimit, 0},
		{"zero limit", "?limit=0", DefaultLimit, 0},
		{"negative offset", "?offset=-5", DefaultLimit, 0},
		{"garbage", "?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("expected limit=%d offset=%d, got limit=%d offset=%d",
					tt.limit, tt.offset, p.Limit, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if resp.Total != 50 || resp.Limit != 20 || resp.Offset != 0 {
		t.Errorf("unexpected response fields: %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore=true")
	}

	last := NewResponse(nil, 50, 20, 40)
	if last.HasMore {
		t.Error("expected HasMore=false on the last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		p     Params
		total int
		want  bool
	}{
		{Params{Limit: 10, Offset: 0}, 25, true},
		{Params{Limit: 10, Offset: 10}, 20, false},
		{Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		if got := tt.p.HasNext(tt.total); got != tt.want {
			t.Errorf("%+v.HasNext(%d) = %v, want %v", tt.p, tt.total, got, tt.want)
		}
	}
	if got := (Params{Limit: 10, Offset: 30}).NextOffset(); got != 40 {
		t.Errorf("expected next offset 40, got %d", got)
	}
}
