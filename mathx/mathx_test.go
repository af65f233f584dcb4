package mathx_test

import (
	"fmt"
	"testing"

	"github.com/fairwaves/xtrx/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(483958.15, 1), mathx.Round(-2.5, 1), mathx.Round(7.3, 0.5))
	// Output: 483958 -3 7.5
}

func TestClamp(t *testing.T) {
	cases := []struct{ x, lo, hi, want float64 }{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{-20, -12, 19, -12},
	}
	for _, c := range cases {
		if got := mathx.Clamp(c.x, c.lo, c.hi); got != c.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", c.x, c.lo, c.hi, got, c.want)
		}
	}
}
