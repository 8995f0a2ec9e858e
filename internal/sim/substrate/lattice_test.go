package substrate

import "testing"

func TestAxis_Directions(t *testing.T) {
	l := Axis(3)
	if got := len(l.Directions()); got != 6 {
		t.Fatalf("axis(3) directions=%d want 6", got)
	}
	seen := map[string]bool{}
	for i, d := range l.Directions() {
		if l.Magnitude(i) != 1 {
			t.Fatalf("direction %v magnitude=%d want 1", d, l.Magnitude(i))
		}
		if seen[d.Key()] {
			t.Fatalf("duplicate direction %v", d)
		}
		seen[d.Key()] = true
	}
}

func TestMoore_Directions(t *testing.T) {
	l := Moore(2)
	if got := len(l.Directions()); got != 8 {
		t.Fatalf("moore(2) directions=%d want 8", got)
	}
	for _, d := range l.Directions() {
		if d.IsZero() {
			t.Fatalf("moore neighbourhood contains the zero vector")
		}
	}
	if got := len(Moore(3).Directions()); got != 26 {
		t.Fatalf("moore(3) directions=%d want 26", got)
	}
}

func TestNew_RejectsUnknown(t *testing.T) {
	if _, err := New("hex", 2); err == nil {
		t.Fatalf("expected error for unknown neighbourhood")
	}
	if _, err := New("axis", 0); err == nil {
		t.Fatalf("expected error for zero dims")
	}
	l, err := New("MOORE", 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Kind() != NeighbourhoodMoore || len(l.Directions()) != 2 {
		t.Fatalf("moore(1) kind=%s dirs=%d", l.Kind(), len(l.Directions()))
	}
}
