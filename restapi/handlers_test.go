package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/latch"
	"github.com/sharedcode/latch/inmemory"
	"github.com/sharedcode/latch/refcount"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := inmemory.NewRecordStore()
	leases := inmemory.NewLeaseManager()
	Configure(&Service{
		Leases:  leases,
		Tracker: refcount.NewTracker(store, leases),
	})
	r := gin.New()
	r.POST("/leases/:target", AcquireLease)
	r.DELETE("/leases/:target/:owner", ReleaseLease)
	r.POST("/targets/:target/references/:id", AttachReference)
	r.DELETE("/targets/:target/references/:id", DetachReference)
	r.GET("/targets/:target/references", GetReferenceCount)
	r.DELETE("/targets/:target", DeleteTarget)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	body := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: bad json body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, body
}

func TestLeaseRoutes(t *testing.T) {
	r := newTestRouter(t)

	w, body := do(t, r, http.MethodPost, "/leases/vm-7?ttl=2s&timeout=1s")
	if w.Code != http.StatusOK {
		t.Fatalf("acquire: expected 200, got %d body %v", w.Code, body)
	}
	owner, _ := body["owner"].(string)
	if _, err := latch.ParseUUID(owner); err != nil {
		t.Fatalf("acquire should respond with the owner id, got %q", owner)
	}

	// Held target: a second acquire with a short timeout comes back 408.
	w, _ = do(t, r, http.MethodPost, "/leases/vm-7?ttl=2s&timeout=100ms")
	if w.Code != http.StatusRequestTimeout {
		t.Fatalf("second acquire: expected 408, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodDelete, "/leases/vm-7/"+owner)
	if w.Code != http.StatusNoContent {
		t.Fatalf("release: expected 204, got %d", w.Code)
	}

	// Free again.
	w, _ = do(t, r, http.MethodPost, "/leases/vm-7?ttl=2s&timeout=1s")
	if w.Code != http.StatusOK {
		t.Fatalf("re-acquire after release: expected 200, got %d", w.Code)
	}
}

func TestLeaseRouteValidation(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(t, r, http.MethodPost, "/leases/vm-7?ttl=bogus")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad ttl: expected 400, got %d", w.Code)
	}
	w, _ = do(t, r, http.MethodPost, "/leases/vm-7?ttl=5ms&timeout=1s")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("sub-minimum ttl: expected 400, got %d", w.Code)
	}
	w, _ = do(t, r, http.MethodDelete, "/leases/vm-7/not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad owner id: expected 400, got %d", w.Code)
	}
}

func TestReferenceRoutes(t *testing.T) {
	r := newTestRouter(t)
	ref := latch.NewUUID().String()

	w, body := do(t, r, http.MethodPost, "/targets/vol-1/references/"+ref)
	if w.Code != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d body %v", w.Code, body)
	}
	if got := body["count"]; got != float64(1) {
		t.Fatalf("attach: expected count 1, got %v", got)
	}

	// Delete is refused while the reference stands.
	w, body = do(t, r, http.MethodDelete, "/targets/vol-1")
	if w.Code != http.StatusConflict {
		t.Fatalf("guarded delete: expected 409, got %d body %v", w.Code, body)
	}

	w, body = do(t, r, http.MethodGet, "/targets/vol-1/references")
	if w.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("count: expected 200/1, got %d %v", w.Code, body)
	}

	w, body = do(t, r, http.MethodDelete, fmt.Sprintf("/targets/vol-1/references/%s", ref))
	if w.Code != http.StatusOK || body["count"] != float64(0) {
		t.Fatalf("detach: expected 200/0, got %d %v", w.Code, body)
	}

	w, _ = do(t, r, http.MethodDelete, "/targets/vol-1")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete after detach: expected 204, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodPost, "/targets/vol-1/references/not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad reference id: expected 400, got %d", w.Code)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	if err := RegisterMethod(GET, "/dup", func(c *gin.Context) {}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := RegisterMethod(GET, "/dup", func(c *gin.Context) {}); err == nil {
		t.Fatalf("duplicate register should error")
	}
	if _, ok := RestMethods()[fmt.Sprintf("%d_%s", GET, "/dup")]; !ok {
		t.Fatalf("registered method missing from the registry")
	}
}
