package sandboxdocker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEngineErrorUsesMessageField(t *testing.T) {
	body := `{"message":"no such container"}`
	resp := &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Body:       httptest.NewRecorder().Result().Body,
	}
	resp.Body = newReadCloser(body)

	err := engineError(resp)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "no such container") {
		t.Errorf("expected message in error, got %v", err)
	}
}

func newReadCloser(s string) *readCloser { return &readCloser{strings.NewReader(s)} }

type readCloser struct{ *strings.Reader }

func (r *readCloser) Close() error { return nil }

func TestNewRejectsNonUnixEndpoint(t *testing.T) {
	if _, err := New("http://localhost:2375", 4, 0, nil); err == nil {
		t.Fatal("expected error for non-unix endpoint")
	}
}

func TestNewAcceptsUnixEndpoint(t *testing.T) {
	c, err := New("unix:///var/run/docker.sock", 4, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.base != "http://docker/"+apiVersion {
		t.Errorf("unexpected base url: %s", c.base)
	}
}
