package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPConfirmer(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "ConfirmSubscription", r.URL.Query().Get("Action"))
		w.Write([]byte("<ConfirmSubscriptionResponse/>"))
	}))
	defer srv.Close()

	c := NewHTTPConfirmer(srv.Client())
	err := c.Confirm(context.Background(), srv.URL+"/?Action=ConfirmSubscription&Token=abc")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestHTTPConfirmerRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewHTTPConfirmer(srv.Client()).Confirm(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unexpected status 403")
}
