package semver

import (
	"testing"
)

func TestParse(t *testing.T) {
	testcases := []struct {
		input    string
		expected string
	}{
		{input: "0.4.5", expected: "0.4.5"},
		{input: "v0.4.5", expected: "0.4.5"},
		{input: " 1.2.3 ", expected: "1.2.3"},
		{input: "1.2.3.4", expected: "1.2.3-4"},
		{input: "0.5.0-rc.1", expected: "0.5.0-rc.1"},
	}

	for _, tc := range testcases {
		v, err := Parse(tc.input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.input, err)
		}
		if v.String() != tc.expected {
			t.Errorf("%s: expected=%s, got=%s", tc.input, tc.expected, v.String())
		}
	}

	if _, err := Parse("not-a-version"); err == nil {
		t.Error("expected error for non-version input")
	}
}

func TestStable(t *testing.T) {
	v, err := Parse("0.5.0-rc.1")
	if err != nil {
		t.Fatal(err)
	}

	if IsStable(v) {
		t.Errorf("0.5.0-rc.1 should not be stable")
	}

	s := Stable(v)
	if s.String() != "0.5.0" {
		t.Errorf("expected=0.5.0, got=%s", s.String())
	}
	if !IsStable(s) {
		t.Errorf("0.5.0 should be stable")
	}
}
