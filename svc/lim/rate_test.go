package lim

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func reqFrom(remoteAddr, xff string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	return r
}

func TestGetRealIP(t *testing.T) {
	trusted := []string{"10.0.0.1", "172.16.0.0/12"}
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		proxies    []string
		want       string
	}{
		{"no proxies", "203.0.113.7:1234", "1.2.3.4", nil, "203.0.113.7"},
		{"untrusted peer ignores XFF", "203.0.113.7:1234", "1.2.3.4", trusted, "203.0.113.7"},
		{"trusted proxy uses XFF", "10.0.0.1:1234", "1.2.3.4", trusted, "1.2.3.4"},
		{"walks past trusted chain", "10.0.0.1:1234", "1.2.3.4, 172.16.5.5", trusted, "1.2.3.4"},
		{"CIDR match", "172.16.9.9:1234", "1.2.3.4", trusted, "1.2.3.4"},
		{"spoofed entries skipped", "10.0.0.1:1234", "9.9.9.9, garbage", trusted, "9.9.9.9"},
		{"empty XFF falls back", "10.0.0.1:1234", "", trusted, "10.0.0.1"},
		{"all trusted falls back", "10.0.0.1:1234", "172.16.1.1", trusted, "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetRealIP(reqFrom(tc.remoteAddr, tc.xff), tc.proxies); got != tc.want {
				t.Fatalf("GetRealIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewRejectsBadProxies(t *testing.T) {
	for _, bad := range []string{"not-an-ip", "10.0.0.0/99"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("New(%q) did not panic", bad)
				}
			}()
			New(60, 5, nil, []string{bad})
		}()
	}
}

func TestCheckLocalBudget(t *testing.T) {
	l := New(60, 3, nil, nil)
	defer l.Stop()
	r := reqFrom("203.0.113.7:1234", "")

	// The bucket starts with a burst equal to the limit.
	for i := 0; i < 3; i++ {
		res := l.CheckLimit(r, "create")
		if !res.Allowed {
			t.Fatalf("request %d denied under budget", i)
		}
		if res.Limit != 3 {
			t.Fatalf("Limit = %d, want 3", res.Limit)
		}
	}
	res := l.CheckLimit(r, "create")
	if res.Allowed {
		t.Fatal("fourth request allowed past the budget")
	}
	if res.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestCheckLocalIsolatesKeys(t *testing.T) {
	l := New(60, 1, nil, nil)
	defer l.Stop()

	a := reqFrom("203.0.113.7:1234", "")
	b := reqFrom("203.0.113.8:1234", "")
	if !l.CheckLimit(a, "create").Allowed {
		t.Fatal("first ip denied")
	}
	if l.CheckLimit(a, "create").Allowed {
		t.Fatal("first ip not exhausted")
	}
	// A different IP and a different endpoint each get their own bucket.
	if !l.CheckLimit(b, "create").Allowed {
		t.Fatal("second ip shares the first ip's bucket")
	}
	if !l.CheckLimit(a, "auth").Allowed {
		t.Fatal("endpoints share a bucket")
	}
}

func TestAdaptiveModeHalvesLimit(t *testing.T) {
	l := New(60, 4, nil, nil)
	defer l.Stop()
	l.TriggerAdaptiveMode()

	res := l.CheckLimit(reqFrom("203.0.113.7:1234", ""), "create")
	if res.Limit != 2 {
		t.Fatalf("adaptive Limit = %d, want 2", res.Limit)
	}
}
