package runtime

import (
	"math/big"
	"testing"
)

func TestNumberSetFromString(t *testing.T) {
	cases := []struct {
		lit  string
		want string
		flt  bool
	}{
		{"42", "42", false},
		{"-7", "-7", false},
		{"0x2A", "42", false},
		{"3.5", "3.5", true},
		{"0.25", "0.25", true},
		{".5", "0.5", true},
	}
	for _, c := range cases {
		n := NewNumber("x")
		if err := n.SetFromString(c.lit); err != nil {
			t.Fatalf("SetFromString(%q): %v", c.lit, err)
		}
		if n.IsFloat() != c.flt {
			t.Fatalf("%q: expected float=%v, got %v", c.lit, c.flt, n.IsFloat())
		}
		if got := n.String(); got != c.want {
			t.Fatalf("%q: expected %q, got %q", c.lit, c.want, got)
		}
	}
}

func TestNumberSetFromStringInvalid(t *testing.T) {
	n := NewNumber("x")
	if err := n.SetFromString("not-a-number"); err == nil {
		t.Fatal("expected error for invalid literal")
	}
}

func TestNumberSetDeepCopiesArrays(t *testing.T) {
	src, err := NewArray("a", []uint64{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	src.ArrayUp[0].ArrayUp[0].SetInt(big.NewInt(5))

	dst := NewNumber("b")
	dst.Set(src)

	dst.ArrayUp[0].ArrayUp[0].SetInt(big.NewInt(99))
	if src.ArrayUp[0].ArrayUp[0].Int().Int64() != 5 {
		t.Fatal("Set must deep-copy array cells, mutation leaked into source")
	}
}

func TestNumberElemBounds(t *testing.T) {
	arr, err := NewArray("a", []uint64{3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := arr.Elem(2); err != nil {
		t.Fatalf("in-range index failed: %v", err)
	}
	_, err = arr.Elem(3)
	if err == nil {
		t.Fatal("expected BoundsError for out-of-range index")
	}
	be, ok := err.(*BoundsError)
	if !ok {
		t.Fatalf("expected *BoundsError, got %T", err)
	}
	if want := "[0, 3)"; !contains(be.Msg, want) {
		t.Fatalf("expected message to contain %q, got %q", want, be.Msg)
	}
}

func TestNumberElemOnScalar(t *testing.T) {
	n := NewNumber("x")
	if _, err := n.Elem(0); err == nil {
		t.Fatal("expected TypeError indexing a scalar")
	} else if _, ok := err.(*TypeError); !ok {
		t.Fatalf("expected *TypeError, got %T", err)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
