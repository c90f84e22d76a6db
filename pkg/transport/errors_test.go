package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stapel-ai/stapel/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		err  *api.APIError
		want int
	}{
		{api.NewInvalidRequestError("model", "missing"), http.StatusBadRequest},
		{api.NewTemplateError("no placeholders"), http.StatusBadRequest},
		{api.NewChatFormatError("bad sequence"), http.StatusBadRequest},
		{api.NewDuplicateIDError("dup"), http.StatusBadRequest},
		{api.NewNotFoundError("gone"), http.StatusNotFound},
		{api.NewTooManyRequestsError("slow down"), http.StatusTooManyRequests},
		{api.NewInvocationError("backend down"), http.StatusBadGateway},
		{api.NewServerError("oops"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatusFromError(tt.err); got != tt.want {
			t.Errorf("%s -> %d, want %d", tt.err.Type, got, tt.want)
		}
	}
}

func TestWriteAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, api.NewTemplateError("no placeholders found"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Type != api.ErrorTypeTemplate {
		t.Errorf("body = %s", rec.Body.String())
	}
}
