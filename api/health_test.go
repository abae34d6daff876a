package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelhq/kestrel/api"
	"github.com/kestrelhq/kestrel/internal/log"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHealthLiveness(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	api.NewHealthHandler(&fakePinger{}, log.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		db   api.Pinger
		want int
	}{
		{"ready", &fakePinger{}, http.StatusOK},
		{"database down", &fakePinger{err: errors.New("dial refused")}, http.StatusServiceUnavailable},
		{"no pool", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			api.NewHealthHandler(tt.db, log.NewNop()).RegisterRoutes(mux)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
