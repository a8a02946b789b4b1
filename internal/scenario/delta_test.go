package scenario

import "testing"

func TestParseDelta(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"+200bp", 0.02},
		{"-75bps", -0.0075},
		{"1.5%", 0.015},
		{"-0.01", -0.01},
	}
	for _, c := range cases {
		got, err := ParseDelta(c.in)
		if err != nil {
			t.Fatalf("ParseDelta(%q) error: %v", c.in, err)
		}
		if diff := got - c.want; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("ParseDelta(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDelta_Invalid(t *testing.T) {
	if _, err := ParseDelta("not-a-number"); err == nil {
		t.Fatal("expected error for unparseable delta string")
	}
}
