package main

import "testing"

func TestListenerURL(t *testing.T) {
	cases := []struct {
		address string
		tls     bool
		want    string
	}{
		{":8080", false, "http://localhost:8080"},
		{"localhost:8000", false, "http://localhost:8000"},
		{"0.0.0.0:9000", false, "http://localhost:9000"},
		{"127.0.0.1:8080", false, "http://127.0.0.1:8080"},
		{"[::]:8080", false, "http://localhost:8080"},
		{"[2001:db8::1]:8080", false, "http://[2001:db8::1]:8080"},
		{":8080", true, "https://localhost:8080"},
		{"", false, "http://localhost"},
	}
	for _, tc := range cases {
		if got := listenerURL(tc.address, tc.tls); got != tc.want {
			t.Errorf("listenerURL(%q, %t) = %q, want %q", tc.address, tc.tls, got, tc.want)
		}
	}
}
