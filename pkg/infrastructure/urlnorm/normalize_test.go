package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	n := New()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "https://Example.COM/News", "https://example.com/News"},
		{"strip fragment", "https://example.com/a#section", "https://example.com/a"},
		{"strip trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"strip root slash", "https://example.com/", "https://example.com"},
		{"strip default port https", "https://example.com:443/a", "https://example.com/a"},
		{"strip default port http", "http://example.com:80/a", "http://example.com/a"},
		{"strip tracking params", "https://example.com/a?utm_source=x&id=7", "https://example.com/a?id=7"},
		{"sort query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := n.Normalize(tc.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	n := New()
	for _, in := range []string{"ftp://example.com/a", "mailto:x@example.com", "javascript:void(0)", "/relative/only", ""} {
		if _, err := n.Normalize(in); err == nil {
			t.Errorf("Normalize(%q) expected error, got nil", in)
		}
	}
}

func TestInScope(t *testing.T) {
	n := New()
	cases := []struct {
		link string
		root string
		want bool
	}{
		{"https://example.com/a", "https://example.com", true},
		{"https://www.example.com/a", "https://example.com", true},
		{"https://news.example.com/a", "https://www.example.com", true},
		{"https://other.com/a", "https://example.com", false},
		{"https://example.com.evil.com/a", "https://example.com", false},
	}
	for _, tc := range cases {
		if got := n.InScope(tc.link, tc.root); got != tc.want {
			t.Errorf("InScope(%q, %q) = %v, want %v", tc.link, tc.root, got, tc.want)
		}
	}
}
