package core

import "testing"

func TestFrameGroupArithmetic(t *testing.T) {
	cases := []struct {
		frame Frame
		k     uint32
		group FrameGroup
		sub   uint32
	}{
		{0, 1, 0, 0},
		{5, 1, 5, 0},
		{5, 4, 1, 1},
		{16, 4, 4, 0},
		{99, 10, 9, 9},
	}
	for _, c := range cases {
		if g := GroupOf(c.frame, c.k); g != c.group {
			t.Errorf("GroupOf(%d, %d) = %d, want %d", c.frame, c.k, g, c.group)
		}
		if s := SubframeOf(c.frame, c.k); s != c.sub {
			t.Errorf("SubframeOf(%d, %d) = %d, want %d", c.frame, c.k, s, c.sub)
		}
		if f := FrameOf(c.group, c.sub, c.k); f != c.frame {
			t.Errorf("FrameOf(%d, %d, %d) = %d, want %d", c.group, c.sub, c.k, f, c.frame)
		}
	}
}
