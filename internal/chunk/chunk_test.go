package chunk

import "testing"

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	s := id.String()
	got, err := ParseID(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: %s vs %s", got, id)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := ParseID("not-a-valid-id"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestMetaContains(t *testing.T) {
	head := Meta{ValidFrom: 10, ValidTo: 0}
	if !head.Contains(10) || !head.Contains(1000) {
		t.Fatal("open head should contain everything from validFrom onward")
	}
	if head.Contains(9) {
		t.Fatal("head should not contain t before validFrom")
	}

	sealed := Meta{ValidFrom: 10, ValidTo: 20, Sealed: true}
	if !sealed.Contains(10) || sealed.Contains(20) {
		t.Fatal("sealed interval must be half-open [validFrom, validTo)")
	}
	if sealed.Open() {
		t.Fatal("sealed chunk must not report Open")
	}
}
