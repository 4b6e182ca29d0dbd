package field

import (
	"math/big"
	"testing"
)

func TestReduceBytesMatchesBigEndian(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03}
	want := big.NewInt(0x010203)
	if got := ReduceBytes(b); got.Cmp(want) != 0 {
		t.Errorf("ReduceBytes = %s, want %s", got, want)
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	x, err := Random()
	if err != nil {
		t.Fatalf("Random failed: %v", err)
	}
	buf := Bytes32(x)
	back := FromBytes32(buf)
	if back.Cmp(x) != 0 {
		t.Errorf("round trip mismatch: %s != %s", back, x)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	x := big.NewInt(123456789)
	s := Decimal(x)
	back, err := FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal failed: %v", err)
	}
	if back.Cmp(x) != 0 {
		t.Errorf("round trip mismatch: %s != %s", back, x)
	}
	if _, err := FromDecimal("not-a-number"); err == nil {
		t.Errorf("expected error for garbage input")
	}
}

func TestReduceCanonicalizes(t *testing.T) {
	over := new(big.Int).Add(Modulus(), big.NewInt(7))
	if got := Reduce(over); got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("Reduce(r+7) = %s, want 7", got)
	}
}

func TestPoseidonDeterministic(t *testing.T) {
	a := big.NewInt(1)
	b := big.NewInt(2)
	h1, err := Poseidon(a, b)
	if err != nil {
		t.Fatalf("Poseidon failed: %v", err)
	}
	h2, err := Poseidon(a, b)
	if err != nil {
		t.Fatalf("Poseidon failed: %v", err)
	}
	if h1.Cmp(h2) != 0 {
		t.Errorf("Poseidon not deterministic: %s != %s", h1, h2)
	}
	if h1.Cmp(Modulus()) >= 0 {
		t.Errorf("Poseidon output not canonical")
	}
}

func TestPoseidonArities(t *testing.T) {
	for _, n := range []int{1, 2, 4, 6} {
		inputs := make([]*big.Int, n)
		for i := range inputs {
			inputs[i] = big.NewInt(int64(i + 1))
		}
		if _, err := Poseidon(inputs...); err != nil {
			t.Errorf("Poseidon arity %d failed: %v", n, err)
		}
	}
}

func TestPoseidonRejectsNil(t *testing.T) {
	if _, err := Poseidon(big.NewInt(1), nil); err == nil {
		t.Errorf("expected error for nil input")
	}
}

func TestRandomIsCanonical(t *testing.T) {
	for i := 0; i < 16; i++ {
		x, err := Random()
		if err != nil {
			t.Fatalf("Random failed: %v", err)
		}
		if x.Sign() < 0 || x.Cmp(Modulus()) >= 0 {
			t.Errorf("Random out of range: %s", x)
		}
	}
}
