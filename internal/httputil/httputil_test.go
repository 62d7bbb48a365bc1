package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireUser(t *testing.T) {
	var seen string
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("header present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserIDHeader, "user-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-1", seen)
	})
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"passing", []Check{func(context.Context) error { return nil }}, http.StatusOK},
		{"failing", []Check{func(context.Context) error { return errors.New("db down") }}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler(discard(), tt.checks...)(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestValidationError(t *testing.T) {
	type req struct {
		Question string `json:"question" validate:"required"`
	}
	err := Validator.Struct(&req{})
	require.Error(t, err)

	w := httptest.NewRecorder()
	ValidationError(discard(), w, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "required", body.Fields["Question"])
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
