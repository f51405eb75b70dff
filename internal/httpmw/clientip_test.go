package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		hops   int
		want   string
	}{
		// no trusted proxies: XFF always ignored
		{"private ignores xff without hops", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1"},
		{"public ignores xff", "203.0.113.1:1234", "10.0.0.1", 0, "203.0.113.1"},
		{"loopback ignores xff without hops", "127.0.0.1:1234", "203.0.113.50", 0, "127.0.0.1"},
		{"ipv6 loopback", "[::1]:1234", "203.0.113.50", 0, "::1"},
		{"no port returns raw", "203.0.113.1", "10.0.0.1", 0, "203.0.113.1"},
		{"garbage returns raw", "not-an-ip", "203.0.113.50", 0, "not-an-ip"},
		{"empty remote", "", "203.0.113.50", 0, "0.0.0.0"},

		// one proxy (nginx or ALB)
		{"single entry is the client", "10.0.0.1:1234", "203.0.113.50", 1, "203.0.113.50"},
		{"rightmost entry wins", "10.0.0.1:1234", "203.0.113.50, 10.0.0.5, 10.0.0.6", 1, "10.0.0.6"},
		{"whitespace trimmed", "10.0.0.1:1234", "  203.0.113.50  ,  10.0.0.5  ", 1, "10.0.0.5"},
		{"local nginx is trusted", "127.0.0.1:1234", "198.51.100.7", 1, "198.51.100.7"},
		{"ipv6 ula proxy", "[fd00::1]:1234", "2001:db8::1", 1, "2001:db8::1"},
		{"public peer never trusted", "203.0.113.1:1234", "10.0.0.1", 1, "203.0.113.1"},
		{"no xff", "10.0.0.1:1234", "", 1, "10.0.0.1"},
		{"garbage xff", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1"},
		{"xff with port", "10.0.0.1:1234", "203.0.113.50:8080", 1, "10.0.0.1"},
		{"xff cidr", "10.0.0.1:1234", "203.0.113.0/24", 1, "10.0.0.1"},

		// several proxies
		{"cdn and alb", "10.0.0.1:1234", "203.0.113.50, 10.0.0.5, 10.0.0.6", 2, "10.0.0.5"},
		{"exactly hops entries", "10.0.0.1:1234", "203.0.113.50, 10.0.0.5", 2, "203.0.113.50"},
		{"fewer entries than hops fails closed", "10.0.0.1:1234", "203.0.113.50", 5, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractRealClientAddr(r, tt.hops); got != tt.want {
				t.Errorf("extractRealClientAddr(hops=%d) = %q, want %q", tt.hops, got, tt.want)
			}
		})
	}
}

func TestExtractRealClientAddr_HeaderClearing(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		hops        int
		wantCleared bool
	}{
		{"public peer", "203.0.113.1:1234", 1, true},
		{"no trusted hops", "10.0.0.1:1234", 0, true},
		{"trusted proxy", "10.0.0.1:1234", 1, false},
		{"hops exceed entries", "10.0.0.1:1234", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			r.Header.Set("X-Forwarded-For", "203.0.113.50")
			r.Header.Set("X-Forwarded-Proto", "https")

			extractRealClientAddr(r, tt.hops)

			cleared := r.Header.Get("X-Forwarded-For") == "" && r.Header.Get("X-Forwarded-Proto") == ""
			if cleared != tt.wantCleared {
				t.Fatalf("cleared = %v, want %v", cleared, tt.wantCleared)
			}
		})
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var captured string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.5, 10.0.0.6")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if captured != "10.0.0.5" {
		t.Fatalf("ClientIPFromContext() = %q, want 10.0.0.5", captured)
	}
}

func TestClientIP_DefaultIgnoresXFF(t *testing.T) {
	var captured string
	h := ClientIPWithOptions(ClientIPOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if captured != "10.0.0.1" {
		t.Fatalf("ClientIPFromContext() = %q, want 10.0.0.1", captured)
	}
}

func TestClientIPContext(t *testing.T) {
	if got := ClientIPFromContext(WithClientIP(context.Background(), "203.0.113.50")); got != "203.0.113.50" {
		t.Fatalf("round trip = %q", got)
	}
	if got := ClientIPFromContext(WithClientIP(context.Background(), "")); got != "" {
		t.Fatalf("empty = %q", got)
	}
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Fatalf("missing = %q", got)
	}
}

func TestIsNonPublic(t *testing.T) {
	tests := []struct {
		remote string
		parsed bool
		want   bool
	}{
		{"127.0.0.1:1", true, true},
		{"[::1]:1", true, true},
		{"10.1.2.3:1", true, true},
		{"192.168.0.10:1", true, true},
		{"169.254.1.1:1", true, true},
		{"[fd00::1]:1", true, true},
		{"[::ffff:10.0.0.1]:1", true, true},
		{"[::ffff:8.8.8.8]:1", true, false},
		{"8.8.8.8:1", true, false},
		{"[2001:db8::1]:1", true, false},
		{"999.1.1.1:1", false, false},
		{"nope", false, false},
	}
	for _, tt := range tests {
		addr, ok := ParseRemoteAddr(tt.remote)
		if ok != tt.parsed {
			t.Fatalf("ParseRemoteAddr(%q) ok = %v, want %v", tt.remote, ok, tt.parsed)
		}
		if !ok {
			continue
		}
		if got := IsNonPublic(addr); got != tt.want {
			t.Errorf("IsNonPublic(%s) = %v, want %v", addr, got, tt.want)
		}
	}
	if IsNonPublic(netip.Addr{}) {
		t.Error("zero address must not count as non-public")
	}
}
