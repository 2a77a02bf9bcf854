package httputil

import (
	"net/http"
	"testing"
)

func TestClientIPRemoteAddr(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"[::1]:12345", "::1"},
		{"192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		r := &http.Request{RemoteAddr: tt.remoteAddr}
		got := ClientIP(r, false)
		if got != tt.want {
			t.Errorf("ClientIP(%q, false) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestClientIPTrustProxy(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		trust      bool
		want       string
	}{
		{"XFF single IP", "1.2.3.4", "", "10.0.0.1:1234", true, "1.2.3.4"},
		{"XFF multiple IPs takes first", "1.2.3.4, 10.0.0.1", "", "10.0.0.3:1234", true, "1.2.3.4"},
		{"X-Real-IP fallback", "", "5.6.7.8", "10.0.0.1:1234", true, "5.6.7.8"},
		{"XFF takes precedence over X-Real-IP", "1.2.3.4", "5.6.7.8", "10.0.0.1:1234", true, "1.2.3.4"},
		{"garbage XFF is ignored", "not-an-ip", "5.6.7.8", "10.0.0.1:1234", true, "5.6.7.8"},
		{"garbage headers fall back to RemoteAddr", "nope", "nope", "10.0.0.1:1234", true, "10.0.0.1"},
		{"headers ignored without trust", "1.2.3.4", "5.6.7.8", "10.0.0.1:1234", false, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(r, tt.trust); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
