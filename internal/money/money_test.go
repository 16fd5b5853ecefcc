package money

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one kwanza", "1.00", 100},
		{"fifty centimos", "0.50", 50},
		{"hundred", "100", 10_000},
		{"smallest unit", "0.01", 1},
		{"whole and frac", "1.50", 150},
		{"no frac", "1", 100},
		{"short frac", "1.5", 150},
		{"typical order", "15000", 1_500_000},
		{"large amount", "9999999.99", 999_999_999},
		{"leading zeros in whole", "007.50", 750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_ZeroVariants(t *testing.T) {
	for _, input := range []string{"0", "0.0", "0.00", ""} {
		got, ok := Parse(input)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", input)
		}
		if got.Sign() != 0 {
			t.Errorf("Parse(%q) = %s, want 0", input, got.String())
		}
	}
}

func TestParse_TruncationBeyondTwoDecimals(t *testing.T) {
	// "1.129" should truncate to "1.12"
	got, ok := Parse("1.129")
	if !ok {
		t.Fatal("Parse returned ok=false")
	}
	if got.Int64() != 112 {
		t.Errorf("Parse(\"1.129\") = %d, want 112 (truncated to 2 decimals)", got.Int64())
	}
}

func TestParse_NoWholePartWithDot(t *testing.T) {
	got, ok := Parse(".50")
	if !ok {
		t.Fatal("Parse(\".50\") returned ok=false")
	}
	if got.Int64() != 50 {
		t.Errorf("Parse(\".50\") = %d, want 50", got.Int64())
	}
}

func TestParse_InvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative", "-1.00"},
		{"negative zero", "-0"},
		{"alphabetic", "abc"},
		{"multiple dots", "1.2.3"},
		{"has letters", "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Parse(tt.input)
			if ok {
				t.Errorf("Parse(%q) should return ok=false", tt.input)
			}
		})
	}
}

func TestParse_VeryLargeAmount(t *testing.T) {
	// Beyond int64 range — use big.Int comparison
	got, ok := Parse("999999999999999999.99")
	if !ok {
		t.Fatal("Parse returned ok=false for very large amount")
	}
	expected, _ := new(big.Int).SetString("99999999999999999999", 10)
	if got.Cmp(expected) != 0 {
		t.Errorf("Parse very large = %s, want %s", got.String(), expected.String())
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0.00" {
		t.Errorf("Format(nil) = %q, want \"0.00\"", got)
	}
}

func TestFormat_Values(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{10, "0.10"},
		{100, "1.00"},
		{150, "1.50"},
		{1_500_000, "15000.00"},
		{999_999_999, "9999999.99"},
		{-150, "-1.50"},
	}

	for _, tt := range tests {
		if got := Format(big.NewInt(tt.input)); got != tt.expected {
			t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestRoundTrip_Canonical(t *testing.T) {
	// Format(Parse(x)) == x for canonical forms (2 decimals)
	canonical := []string{"0.00", "0.01", "1.00", "1.50", "15000.00", "9999999.99"}

	for _, s := range canonical {
		parsed, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("RoundTrip: Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestRoundTrip_NonCanonical(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1", "1.00"},
		{"1.5", "1.50"},
		{"0.1", "0.10"},
		{"007.50", "7.50"},
	}

	for _, tt := range tests {
		parsed, ok := Parse(tt.input)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", tt.input)
		}
		if got := Format(parsed); got != tt.expected {
			t.Errorf("Format(Parse(%q)) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestAddSubCmp(t *testing.T) {
	if got := Add("100.50", "0.50"); got != "101.00" {
		t.Errorf("Add = %q, want \"101.00\"", got)
	}
	if got := Sub("100.00", "30.25"); got != "69.75" {
		t.Errorf("Sub = %q, want \"69.75\"", got)
	}
	if got := Sub("10", "15"); got != "-5.00" {
		t.Errorf("Sub negative = %q, want \"-5.00\"", got)
	}
	if Cmp("1.00", "1") != 0 {
		t.Error("Cmp(\"1.00\", \"1\") != 0")
	}
	if Cmp("1.01", "1.00") != 1 {
		t.Error("Cmp(\"1.01\", \"1.00\") != 1")
	}
	if Cmp("0.99", "1.00") != -1 {
		t.Error("Cmp(\"0.99\", \"1.00\") != -1")
	}
}
