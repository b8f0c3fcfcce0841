package utils

import (
	"net"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestContainsNonASCII(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "empty string", input: "", expected: false},
		{name: "email address", input: "user@example.com", expected: false},
		{name: "ASCII with newlines", input: "hello\r\nworld", expected: false},
		{name: "boundary ASCII (127)", input: string([]byte{127}), expected: false},
		{name: "UTF-8 umlaut", input: "hello wörld", expected: true},
		{name: "international email-like", input: "user@exämple.com", expected: true},
		{name: "high ASCII byte string", input: string([]byte{0x80}), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsNonASCII(tt.input); got != tt.expected {
				t.Errorf("ContainsNonASCII(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID()
	if _, err := ulid.ParseStrict(id); err != nil {
		t.Fatalf("GenerateID() = %q is not a ULID: %v", id, err)
	}

	ids := make(map[string]bool)
	for range 100 {
		newID := GenerateID()
		if ids[newID] {
			t.Errorf("GenerateID() returned duplicate ID: %s", newID)
		}
		ids[newID] = true
	}
}

func TestGetIPFromAddr(t *testing.T) {
	tests := []struct {
		name        string
		addr        net.Addr
		expectedIP  string
		expectError bool
	}{
		{
			name:        "nil address",
			addr:        nil,
			expectError: true,
		},
		{
			name:       "TCP IPv4 address",
			addr:       &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 25},
			expectedIP: "192.168.1.1",
		},
		{
			name:       "TCP IPv6 address",
			addr:       &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 24},
			expectedIP: "2001:db8::1",
		},
		{
			name:       "IP address",
			addr:       &net.IPAddr{IP: net.ParseIP("8.8.8.8")},
			expectedIP: "8.8.8.8",
		},
		{
			name:       "string with host:port",
			addr:       mockAddr{network: "tcp", str: "192.168.1.100:25"},
			expectedIP: "192.168.1.100",
		},
		{
			name:       "string with IPv6 host:port",
			addr:       mockAddr{network: "tcp", str: "[::1]:25"},
			expectedIP: "::1",
		},
		{
			name:        "invalid address string",
			addr:        mockAddr{network: "tcp", str: "not-an-ip"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := GetIPFromAddr(tt.addr)
			if tt.expectError {
				if err == nil {
					t.Errorf("GetIPFromAddr() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetIPFromAddr() unexpected error: %v", err)
			}
			if ip.String() != tt.expectedIP {
				t.Errorf("GetIPFromAddr() = %v, want %v", ip.String(), tt.expectedIP)
			}
		})
	}
}

func TestIPKey(t *testing.T) {
	if got := IPKey(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 4242}); got != "10.1.2.3" {
		t.Errorf("IPKey(tcp) = %q", got)
	}
	if got := IPKey(mockAddr{network: "unix", str: "@socket"}); got != "@socket" {
		t.Errorf("IPKey(unix) = %q", got)
	}
	if got := IPKey(nil); got != "" {
		t.Errorf("IPKey(nil) = %q", got)
	}
}

func TestDomainOf(t *testing.T) {
	tests := map[string]string{
		"user@Example.COM":   "example.com",
		"a@b@relay.example":  "relay.example",
		"postmaster":         "",
		"\"quoted@\"@x.test": "x.test",
	}
	for in, want := range tests {
		if got := DomainOf(in); got != want {
			t.Errorf("DomainOf(%q) = %q, want %q", in, got, want)
		}
	}
}

// mockAddr implements net.Addr for testing the fallback path
type mockAddr struct {
	network string
	str     string
}

func (m mockAddr) Network() string { return m.network }
func (m mockAddr) String() string  { return m.str }
