package webpush

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cryptomap/pulse/lib/push"
	"github.com/cryptomap/pulse/lib/store"
)

// TestSend checks the mapping of endpoint responses onto delivery outcomes.
func TestSend(t *testing.T) {
	status := http.StatusCreated
	mock := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("TTL") == "" {
			t.Errorf("bad push request: method=%s TTL=%q", r.Method, r.Header.Get("TTL"))
		}
		rw.WriteHeader(status)
	}))
	defer mock.Close()

	w := New()
	ep := store.PushEndpoint{Endpoint: mock.URL, UserID: "u1"}
	n := push.Notification{Title: "volume change", ProjectID: "p1", Volume: 11, Change: 10}

	cases := []struct {
		name   string
		status int
		gone   bool
		ok     bool
	}{
		{"delivered", http.StatusCreated, false, true},
		{"gone", http.StatusGone, true, false},
		{"not found", http.StatusNotFound, true, false},
		{"transient", http.StatusServiceUnavailable, false, false},
	}

	for _, c := range cases {
		status = c.status
		err := w.Send(ep, n)
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error:%e", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
		if c.gone != errors.Is(err, push.ErrEndpointGone) {
			t.Errorf("%s: gone mismatch, err:%v", c.name, err)
		}
	}
}
