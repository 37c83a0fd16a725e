package httpconnect

import "testing"

func TestHostnamePatternMatching(t *testing.T) {
	p := &CertPool{patterns: []string{"*.swift.org"}}

	if !p.ShouldIntercept("www.swift.org") {
		t.Fatal("expected www.swift.org to match *.swift.org")
	}
	if p.ShouldIntercept("swift.org") {
		t.Fatal("bare swift.org must not match *.swift.org")
	}
	if p.ShouldIntercept("other.org") {
		t.Fatal("unrelated host must not match")
	}
}
