package partitioning

import "testing"

func TestFromString(t *testing.T) {
	cases := []struct {
		in   string
		want Partitioning
	}{
		{"x", Partitioning{X: true}},
		{"y", Partitioning{Y: true}},
		{"xy", Partitioning{X: true, Y: true}},
		{"YX", Partitioning{X: true, Y: true}},
		{"z", Partitioning{Z: true}},
		{"", Partitioning{}},
	}
	for _, c := range cases {
		if got := FromString(c.in); got != c.want {
			t.Errorf("partitioning.FromString(%q): got %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestIsSplitAt(t *testing.T) {
	p := FromString("xz")
	if !p.IsSplitAt(0) {
		t.Errorf("IsSplitAt(0): want true")
	}
	if p.IsSplitAt(1) {
		t.Errorf("IsSplitAt(1): want false")
	}
	if !p.IsSplitAt(2) {
		t.Errorf("IsSplitAt(2): want true")
	}
}

func TestIsSplitAtPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("IsSplitAt(3): want panic, got none")
		}
	}()
	FromString("x").IsSplitAt(3)
}

func TestNumAxesAndString(t *testing.T) {
	cases := []struct {
		in       string
		numAxes  int
		roundTrip string
	}{
		{"x", 1, "x"},
		{"xy", 2, "xy"},
		{"zx", 2, "xz"},
		{"", 0, ""},
		{"xyz", 3, "xyz"},
	}
	for _, c := range cases {
		p := FromString(c.in)
		if n := p.NumAxes(); n != c.numAxes {
			t.Errorf("partitioning.NumAxes(%q): got %d, want %d", c.in, n, c.numAxes)
		}
		if s := p.String(); s != c.roundTrip {
			t.Errorf("partitioning.String(%q): got %q, want %q", c.in, s, c.roundTrip)
		}
	}
}
