package auth

import "testing"

func TestAccessKeyRoundTrip(t *testing.T) {
	keyID, secret, err := NewAccessKey()
	if err != nil {
		t.Fatalf("new access key: %v", err)
	}
	if keyID == "" || secret == "" {
		t.Fatalf("expected non-empty key parts")
	}
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	if !CheckSecret(secret, hash) {
		t.Fatalf("expected secret check to pass")
	}
	if CheckSecret("wrong", hash) {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestSplitPresentedKey(t *testing.T) {
	cases := []struct {
		in     string
		wantOK bool
	}{
		{"abc.def", true},
		{" abc.def ", true},
		{"abcdef", false},
		{".def", false},
		{"abc.", false},
		{"", false},
	}
	for _, tc := range cases {
		keyID, secret, ok := SplitPresentedKey(tc.in)
		if ok != tc.wantOK {
			t.Fatalf("SplitPresentedKey(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
		}
		if ok && (keyID == "" || secret == "") {
			t.Fatalf("SplitPresentedKey(%q) returned empty parts", tc.in)
		}
	}
}
