package tracking

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterMemory(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	h := NewHandler(tr)
	mw, err := NewRateLimiter("2-M", nil)
	require.NoError(t, err)
	h.SetRedirectLimiter(mw)
	router := h.Routes()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/redirect/x/y", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		codes = append(codes, serve(router, req).Code)
	}
	assert.Equal(t, []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusTooManyRequests}, codes)

	// beacons are not limited
	req := httptest.NewRequest(http.MethodGet, "/beacon/y", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
}

func TestRateLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mw, err := NewRateLimiter("1-H", client)
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := mw(ok)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/redirect", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/redirect", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimiterBadRate(t *testing.T) {
	_, err := NewRateLimiter("lots", nil)
	assert.Error(t, err)
}
