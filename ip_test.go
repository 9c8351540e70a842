package ssoguard

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:4455",
			want:       "203.0.113.7",
		},
		{
			name:       "headers ignored without trust",
			remoteAddr: "203.0.113.7:4455",
			xff:        "198.51.100.1",
			xRealIP:    "198.51.100.2",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded-for with one trusted proxy",
			remoteAddr: "10.0.0.1:4455",
			xff:        "198.51.100.1, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:              "forwarded-for with two trusted proxies",
			remoteAddr:        "10.0.0.1:4455",
			xff:               "198.51.100.1, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "198.51.100.1",
		},
		{
			name:       "short forwarded-for list uses leftmost",
			remoteAddr: "10.0.0.1:4455",
			xff:        "198.51.100.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip when forwarded-for absent",
			remoteAddr: "10.0.0.1:4455",
			xRealIP:    "198.51.100.2",
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "invalid forwarded-for entry falls through",
			remoteAddr: "10.0.0.1:4455",
			xff:        "not-an-ip, 10.0.0.1",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := ClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
