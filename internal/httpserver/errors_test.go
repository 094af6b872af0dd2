package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"dmcore/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrSelfConversation, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrNotAParticipant, http.StatusForbidden},
		{fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w: %w", domain.ErrPersistenceUnavailable, errors.New("locked")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), fmt.Errorf("store: %w: %w", domain.ErrPersistenceUnavailable, errors.New("pq: secret detail")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestSenderLimiter_Sweep(t *testing.T) {
	l := newSenderLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i <= limiterSweepAbove; i++ {
		l.Allow(fmt.Sprintf("u%d", i))
	}
	now = now.Add(limiterIdleTTL + time.Second)
	l.Allow("fresh")

	assert.Len(t, l.senders, 1)
	assert.True(t, l.Allow("other"))
	assert.False(t, l.Allow("other"))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "bearer abc ")
	assert.Equal(t, "abc", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(r))
}
