package diag

import "testing"

func TestStats(t *testing.T) {
	var s Stats
	for _, v := range []float64{3, 1, 2, 4} {
		s.Add(v)
	}
	if got, want := s.N(), 4; got != want {
		t.Errorf("N() = %d, want %d", got, want)
	}
	if got, want := s.Mean(), 2.5; got != want {
		t.Errorf("Mean() = %v, want %v", got, want)
	}
	if got, want := s.Percentile(0), 1.0; got != want {
		t.Errorf("Percentile(0) = %v, want %v", got, want)
	}
	if got, want := s.Percentile(100), 4.0; got != want {
		t.Errorf("Percentile(100) = %v, want %v", got, want)
	}
}

func TestStatsEmpty(t *testing.T) {
	var s Stats
	if got, want := s.Mean(), 0.0; got != want {
		t.Errorf("Mean() = %v, want %v", got, want)
	}
	if got, want := s.Percentile(50), 0.0; got != want {
		t.Errorf("Percentile(50) = %v, want %v", got, want)
	}
}
