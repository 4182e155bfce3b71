package utils

import (
	"net/http/httptest"
	"testing"
)

func TestClientID(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded header wins",
			forwarded:  "203.0.113.5, 10.0.0.1",
			realIP:     "198.51.100.2",
			remoteAddr: "127.0.0.1:9999",
			want:       "203.0.113.5",
		},
		{
			name:       "real ip fallback",
			realIP:     "198.51.100.2",
			remoteAddr: "127.0.0.1:9999",
			want:       "198.51.100.2",
		},
		{
			name:       "remote addr fallback strips port",
			remoteAddr: "192.0.2.44:1234",
			want:       "192.0.2.44",
		},
		{
			name: "shared bucket when nothing resolvable",
			want: UnknownClient,
		},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if tt.realIP != "" {
			req.Header.Set("X-Real-IP", tt.realIP)
		}
		if got := ClientID(req); got != tt.want {
			t.Errorf("%s: ClientID = %q, want %q", tt.name, got, tt.want)
		}
	}
}
