package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONResponseBuilder(t *testing.T) {
	tests := []struct {
		name        string
		builder     *JSONResponseBuilder
		wantStatus  int
		wantBody    string
		wantHeaders map[string]string
	}{
		{
			name:       "default status with body",
			builder:    NewJSONResponse().Body(map[string]int{"count": 2}),
			wantStatus: http.StatusOK,
			wantBody:   `{"count":2}`,
			wantHeaders: map[string]string{
				"Content-Type": "application/json",
			},
		},
		{
			name:       "created with location",
			builder:    JSON(http.StatusCreated, map[string]string{"id": "rent"}).Header("Location", "/payments/rent"),
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":"rent"}`,
			wantHeaders: map[string]string{
				"Location": "/payments/rent",
			},
		},
		{
			name:       "no content has no body",
			builder:    NoContent(),
			wantStatus: http.StatusNoContent,
			wantBody:   "",
		},
		{
			name:       "error response",
			builder:    NotFoundError("payment not found"),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"payment not found"}`,
		},
		{
			name:       "unencodable body becomes 500",
			builder:    JSON(http.StatusOK, map[string]any{"f": func() {}}),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"failed to encode response"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.builder.Write(rec)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			for name, want := range tt.wantHeaders {
				if got := rec.Header().Get(name); got != want {
					t.Errorf("header %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestErrorHelpersStatusCodes(t *testing.T) {
	tests := []struct {
		builder *JSONResponseBuilder
		want    int
	}{
		{BadRequestError("x"), http.StatusBadRequest},
		{UnprocessableEntityError("x"), http.StatusUnprocessableEntity},
		{ConflictError("x"), http.StatusConflict},
		{InternalServerError("x"), http.StatusInternalServerError},
		{ServiceUnavailableError("x"), http.StatusServiceUnavailable},
		{TooManyRequestsError(), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.builder.Write(rec)
		if rec.Code != tt.want {
			t.Errorf("status = %d, want %d", rec.Code, tt.want)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Errorf("body %q has no error field", rec.Body.String())
		}
	}
}
