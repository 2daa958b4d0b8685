package util

import "testing"

func TestFingerprint(t *testing.T) {
	a := Fingerprint("facebook/bart-large-cnn", "some text")

	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(a))
	}
	if a != Fingerprint("facebook/bart-large-cnn", "some text") {
		t.Error("fingerprint is not stable")
	}
	if a == Fingerprint("t5-base", "some text") {
		t.Error("different models should produce different fingerprints")
	}
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Error("part boundaries should matter")
	}
}
