package crypto

import "testing"

func TestCanonicalJSON_SortsKeysAndStripsWhitespace(t *testing.T) {
	input := []byte(`{ "b": [3, 1.50, true], "a": {"z": null, "y": "line\nbreak"} }`)
	got, err := CanonicalJSON(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"y":"line\nbreak","z":null},"b":[3,1.5,true]}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalJSON_RejectsTrailingData(t *testing.T) {
	if _, err := CanonicalJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestCanonicalizeValue_StableAcrossMapOrder(t *testing.T) {
	first, err := CanonicalizeValue(map[string]any{"report_id": "r-1", "status": "submitted", "version": 2})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := CanonicalizeValue(map[string]any{"version": 2, "status": "submitted", "report_id": "r-1"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected stable output, got %s and %s", first, second)
	}
	if HashHex(first) != HashHex(second) || !ValidHash(HashHex(first)) {
		t.Fatal("expected equal valid hashes")
	}
}
