package money

import "testing"

func TestFormat(t *testing.T) {
	cases := map[uint64]string{
		0:          "0",
		100000000:  "1",
		150000000:  "1.5",
		1:          "0.00000001",
		123456789:  "1.23456789",
		10000:      "0.0001",
	}
	for amount, want := range cases {
		if got := Format(amount); got != want {
			t.Errorf("Format(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestFormatFixed(t *testing.T) {
	cases := map[uint64]string{
		0:         "0.00000000",
		100000000: "1.00000000",
		150000000: "1.50000000",
		1:         "0.00000001",
		123456789: "1.23456789",
	}
	for amount, want := range cases {
		if got := FormatFixed(amount); got != want {
			t.Errorf("FormatFixed(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	cases := map[string]uint64{
		"0":          0,
		"1":          100000000,
		"1.5":        150000000,
		"0.00000001": 1,
		"1.23456789": 123456789,
		".5":         50000000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	invalid := []string{"", "-1", "1.2.3", "abc", "1.123456789", "18446744073709551616"}
	for _, in := range invalid {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", in)
		}
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	amounts := []uint64{0, 1, 100000000, 999999999999, 42}
	for _, a := range amounts {
		s := Format(a)
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(Format(%d)) returned error: %v", a, err)
		}
		if got != a {
			t.Errorf("roundtrip mismatch: %d -> %q -> %d", a, s, got)
		}
	}
}

func TestAddSub(t *testing.T) {
	if _, err := Add(1<<63, 1<<63); err == nil {
		t.Error("Add expected overflow error")
	}
	if _, err := Sub(1, 2); err == nil {
		t.Error("Sub expected underflow error")
	}
	sum, err := Add(100, 200)
	if err != nil || sum != 300 {
		t.Errorf("Add(100,200) = %d, %v", sum, err)
	}
}
