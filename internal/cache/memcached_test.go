package cache

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseAddrs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"localhost:11211", []string{"localhost:11211"}},
		{" a:1 , b:2 ,", []string{"a:1", "b:2"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := parseAddrs(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("parseAddrs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestItemKey_FitsMemcachedLimits verifies long request keys map to short, space-free keys
// and that generations isolate otherwise identical keys.
func TestItemKey_FitsMemcachedLimits(t *testing.T) {
	long := "GET https://api.open-meteo.com/v1/forecast?" + strings.Repeat("current=temperature_2m&", 40)
	k := itemKey("01HZX", long)
	if len(k) > 250 || strings.ContainsAny(k, " \n") {
		t.Errorf("itemKey() = %q, exceeds memcached key rules", k)
	}
	if itemKey("01HZX", long) != k {
		t.Error("itemKey() should be deterministic")
	}
	if itemKey("01HZY", long) == k {
		t.Error("itemKey() should differ across generations")
	}
}

// TestEncodeIndex_EvictsOldestOverLimit verifies the key index stays under its byte
// limit by dropping the earliest put keys.
func TestEncodeIndex_EvictsOldestOverLimit(t *testing.T) {
	keys := []string{"GET /a", "GET /b", "GET /c", "GET /d"}
	full, _ := json.Marshal(keys)

	raw, evicted, err := encodeIndex(append([]string(nil), keys...), len(full))
	if err != nil {
		t.Fatalf("encodeIndex() error = %v", err)
	}
	if len(evicted) != 0 || string(raw) != string(full) {
		t.Errorf("encodeIndex() at limit = %s, evicted %v", raw, evicted)
	}

	raw, evicted, err = encodeIndex(append([]string(nil), keys...), len(full)-1)
	if err != nil {
		t.Fatalf("encodeIndex() error = %v", err)
	}
	if strings.Join(evicted, ",") != "GET /a" {
		t.Errorf("evicted = %v, want [GET /a]", evicted)
	}
	var kept []string
	if err := json.Unmarshal(raw, &kept); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if strings.Join(kept, ",") != "GET /b,GET /c,GET /d" {
		t.Errorf("kept = %v", kept)
	}
	if len(raw) > len(full)-1 {
		t.Errorf("encoded index %d bytes exceeds limit %d", len(raw), len(full)-1)
	}
}

func TestRemoveKey(t *testing.T) {
	got := removeKey([]string{"a", "b", "a", "c"}, "a")
	if strings.Join(got, ",") != "b,c" {
		t.Errorf("removeKey() = %v, want [b c]", got)
	}
	if got := append(removeKey([]string{"x", "y"}, "x"), "x"); strings.Join(got, ",") != "y,x" {
		t.Errorf("re-put order = %v, want [y x]", got)
	}
}
