package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded single", forwarded: "203.0.113.7", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "forwarded chain", forwarded: "203.0.113.7, 10.0.0.2", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "forwarded garbage skipped", forwarded: "not-an-ip, 203.0.113.7", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "real ip fallback", realIP: "198.51.100.4", remoteAddr: "10.0.0.1:1234", want: "198.51.100.4"},
		{name: "remote addr fallback", remoteAddr: "192.0.2.9:5678", want: "192.0.2.9"},
		{name: "spoofed headers ignored", forwarded: "<script>", realIP: "junk", remoteAddr: "192.0.2.9:5678", want: "192.0.2.9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
