package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/domain/billing/billingtest"
	"github.com/claimrecon/claimrecon/internal/platform/auth"
)

func newTestHandler() (*Handler, *billingtest.Store, *billing.User, *echo.Echo) {
	svc, store, user := newTestService()
	h := NewHandler(svc)
	h.now = func() time.Time { return testNow }
	return h, store, user, echo.New()
}

func withActor(req *http.Request, id string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, id)
	return req.WithContext(ctx)
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_AutoReconcile(t *testing.T) {
	h, store, user, e := newTestHandler()
	addClaim(store, billing.ClaimApproved, "1000.00", "1000.00", "700.00")

	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/reconciliations/auto-reconcile", nil), user.ID.String())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.AutoReconcile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Message         string                    `json:"message"`
		Reconciliations []*billing.Reconciliation `json:"reconciliations"`
		Skipped         []Skip                    `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reconciliations) != 1 {
		t.Fatalf("expected 1 reconciliation, got %d", len(body.Reconciliations))
	}
	if !body.Reconciliations[0].VarianceAmount.Equal(d("300")) {
		t.Errorf("expected variance 300, got %s", body.Reconciliations[0].VarianceAmount)
	}
	if !strings.Contains(rec.Body.String(), `"variance_amount":300`) {
		t.Errorf("expected amounts as JSON numbers, got %s", rec.Body.String())
	}
}

func TestHandler_AutoReconcile_UnknownActor(t *testing.T) {
	h, _, _, e := newTestHandler()

	req := withActor(httptest.NewRequest(http.MethodPost, "/", nil), uuid.NewString())
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpStatus(t, h.AutoReconcile(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_AutoReconcile_NoSubject(t *testing.T) {
	h, _, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpStatus(t, h.AutoReconcile(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHandler_AutoReconcile_StoreDown(t *testing.T) {
	h, store, user, e := newTestHandler()
	addClaim(store, billing.ClaimApproved, "10.00", "10.00", "5.00")
	store.Fail("InsertReconciliations", errors.New("timeout"))

	req := withActor(httptest.NewRequest(http.MethodPost, "/", nil), user.ID.String())
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpStatus(t, h.AutoReconcile(c)); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestHandler_Create(t *testing.T) {
	h, store, user, e := newTestHandler()
	claim := addClaim(store, billing.ClaimApproved, "100.00", "100.00", "100.00")

	body := `{"claim_id":"` + claim.ID.String() + `","billed_amount":100,"approved_amount":100,"paid_amount":"100.00"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/reconciliations", strings.NewReader(body)), user.ID.String())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = withActor(httptest.NewRequest(http.MethodPost, "/api/v1/reconciliations", strings.NewReader(body)), user.ID.String())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpStatus(t, h.Create(c)); code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", code)
	}
}

func TestHandler_Create_MissingAmounts(t *testing.T) {
	h, store, user, e := newTestHandler()
	claim := addClaim(store, billing.ClaimApproved, "100.00", "100.00", "100.00")

	body := `{"claim_id":"` + claim.ID.String() + `","billed_amount":100}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), user.ID.String())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpStatus(t, h.Create(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Update_RejectsAmountFields(t *testing.T) {
	h, store, user, e := newTestHandler()
	addClaim(store, billing.ClaimApproved, "100.00", "100.00", "50.00")
	res, _ := h.svc.AutoReconcile(context.Background(), user.ID, testNow)
	id := res.Created[0].ID

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"paid_amount":100}`))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	if code := httpStatus(t, h.Update(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	stored, _ := h.svc.Get(context.Background(), id)
	if !stored.PaidAmount.Equal(d("50.00")) {
		t.Errorf("expected paid snapshot unchanged, got %s", stored.PaidAmount)
	}
}

func TestHandler_Update(t *testing.T) {
	h, store, user, e := newTestHandler()
	addClaim(store, billing.ClaimApproved, "100.00", "100.00", "50.00")
	res, _ := h.svc.AutoReconcile(context.Background(), user.ID, testNow)
	id := res.Created[0].ID

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"resolution_status":"escalated"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r billing.Reconciliation
	json.Unmarshal(rec.Body.Bytes(), &r)
	if r.ResolutionStatus != billing.ResolutionEscalated {
		t.Errorf("expected escalated, got %s", r.ResolutionStatus)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, _, _, e := newTestHandler()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	if code := httpStatus(t, h.Get(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_Get_BadID(t *testing.T) {
	h, _, _, e := newTestHandler()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("42")

	if code := httpStatus(t, h.Get(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_List(t *testing.T) {
	h, store, user, e := newTestHandler()
	for i := 0; i < 3; i++ {
		addClaim(store, billing.ClaimApproved, "10.00", "10.00", "10.00")
	}
	h.svc.AutoReconcile(context.Background(), user.ID, testNow)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=2", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Data    []json.RawMessage `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 3 || len(body.Data) != 2 || !body.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", body.Total, len(body.Data), body.HasMore)
	}
}

func TestHandler_ListByClaim_Empty(t *testing.T) {
	h, _, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("claim_id")
	c.SetParamValues(uuid.NewString())

	if err := h.ListByClaim(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"reconciliations":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_ListByStatus_Invalid(t *testing.T) {
	h, _, _, e := newTestHandler()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("status")
	c.SetParamValues("closed")

	if code := httpStatus(t, h.ListByStatus(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Classify(t *testing.T) {
	h, _, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?billed=1000.00&approved=800.00&paid=800.00", nil), rec)
	if err := h.Classify(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cls Classification
	json.Unmarshal(rec.Body.Bytes(), &cls)
	if cls.Reason != ReasonPartialApproval || !cls.Variance.Equal(d("200")) {
		t.Errorf("unexpected classification: %+v", cls)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?billed=abc", nil), httptest.NewRecorder())
	if code := httpStatus(t, h.Classify(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Report(t *testing.T) {
	h, _, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.Report(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total_count":0`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}
