package proxyrouter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseHost(t *testing.T) {
	sessionID, port, err := parseHost("11111111-1111-1111-1111-111111111111--3000.lab.localhost", "lab.localhost")
	if err != nil {
		t.Fatalf("parseHost: %v", err)
	}
	if sessionID != "11111111-1111-1111-1111-111111111111" || port != 3000 {
		t.Errorf("got session=%s port=%d", sessionID, port)
	}
}

func TestParseHostRejectsMismatchedBaseDomain(t *testing.T) {
	_, _, err := parseHost("11111111-1111-1111-1111-111111111111--3000.other.domain", "lab.localhost")
	if err == nil {
		t.Fatal("expected error for mismatched base domain")
	}
}

func TestParseHostRejectsMalformed(t *testing.T) {
	_, _, err := parseHost("not-a-valid-host", "lab.localhost")
	if err == nil {
		t.Fatal("expected error for malformed host")
	}
}

func TestRegisterAndGetUrls(t *testing.T) {
	r := New("lab.localhost", 255*time.Second)
	routes := r.RegisterCluster("sess-1", []ContainerRoute{
		{ContainerID: "web", Hostname: "web.sess-1", Ports: map[int]*int{3000: nil}},
	})
	if len(routes) != 1 || routes[0].ContainerPort != 3000 {
		t.Fatalf("unexpected routes: %+v", routes)
	}

	urls := r.GetUrls("sess-1")
	if len(urls) != 1 {
		t.Fatalf("expected 1 url, got %d", len(urls))
	}
}

func TestUnregisterClusterRemovesRoutes(t *testing.T) {
	r := New("lab.localhost", 255*time.Second)
	r.RegisterCluster("sess-1", []ContainerRoute{{Hostname: "web", Ports: map[int]*int{3000: nil}}})
	r.UnregisterCluster("sess-1")

	if urls := r.GetUrls("sess-1"); len(urls) != 0 {
		t.Errorf("expected no urls after unregister, got %v", urls)
	}
}

func TestServeHTTPInvalidHostReturns400(t *testing.T) {
	r := New("lab.localhost", 255*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "not-valid"
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServeHTTPUnknownRouteReturns404(t *testing.T) {
	r := New("lab.localhost", 255*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "11111111-1111-1111-1111-111111111111--3000.lab.localhost"
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServeHTTPOptionsReturns204(t *testing.T) {
	r := New("lab.localhost", 255*time.Second)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Host = "11111111-1111-1111-1111-111111111111--3000.lab.localhost"
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on OPTIONS response")
	}
}
