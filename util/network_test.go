package util

import (
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{"127.0.0.1:7301", Endpoint{"tcp", "127.0.0.1:7301"}, false},
		{"tcp:localhost:80", Endpoint{"tcp", "localhost:80"}, false},
		{"tcp:[::1]:443", Endpoint{"tcp", "[::1]:443"}, false},
		{"unix:/run/lifo_write.sock", Endpoint{"unix", "/run/lifo_write.sock"}, false},
		{":0", Endpoint{"tcp", ":0"}, false},
		{"", Endpoint{}, true},
		{"unix:", Endpoint{}, true},
		{"no-port", Endpoint{}, true},
		{"host:99999", Endpoint{}, true},
		{"host:http", Endpoint{}, true},
	}

	for _, tt := range tests {
		got, err := ParseEndpoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEndpoint(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestEndpoint_String(t *testing.T) {
	for _, s := range []string{"127.0.0.1:7302", "unix:/tmp/r.sock"} {
		ep, err := ParseEndpoint(s)
		if err != nil {
			t.Fatal(err)
		}
		if ep.String() != s {
			t.Errorf("String() = %q, want %q", ep.String(), s)
		}
	}
}

func TestFormatAddr(t *testing.T) {
	if got := FormatAddr("1.2.3.4", 22); got != "1.2.3.4:22" {
		t.Errorf("got %q, want %q", got, "1.2.3.4:22")
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < 1 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}
