// https://github.com/relaysync/core

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestResponseWriter_Success(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec, req)

	rw.Success(map[string]string{"ok": "yes"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Error != nil {
		t.Errorf("resp = %+v, want Success=true and no Error", resp)
	}
}

func TestResponseWriter_ErrorDoesNotLeakInternalErrorText(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec, req)

	rw.InternalError(errBoom)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Error == nil {
		t.Fatal("expected an error body")
	}
	if resp.Error.Message == errBoom.Error() {
		t.Error("InternalError leaked the underlying error text to the client")
	}
}

func TestResponseWriter_BadRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec, req)

	rw.BadRequest("missing field")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("resp.Error = %+v, want code %q", resp.Error, ErrCodeBadRequest)
	}
}

func TestResponseWriter_NoContent(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec, req)

	rw.NoContent()

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom: disk on fire" }

var errBoom error = boomError{}
