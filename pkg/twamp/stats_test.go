package twamp

import (
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	s := summarize([]time.Duration{ms(10), ms(20), ms(30)})
	if s.Min != ms(10) || s.Max != ms(30) || s.Avg != ms(20) {
		t.Errorf("min/avg/max = %v/%v/%v, want 10ms/20ms/30ms", s.Min, s.Avg, s.Max)
	}
	// Consecutive deltas are 10ms, 10ms → jitter 10ms.
	if s.Jitter != ms(10) {
		t.Errorf("jitter = %v, want 10ms", s.Jitter)
	}
}

func TestSummarizeSteadyStream(t *testing.T) {
	s := summarize([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
	if s.Jitter != 0 {
		t.Errorf("steady stream jitter = %v, want 0", s.Jitter)
	}
}

func TestSummarizeSigned(t *testing.T) {
	// One-way delays may be negative between unsynchronized clocks.
	s := summarize([]time.Duration{-2 * time.Millisecond, 2 * time.Millisecond})
	if s.Min != -2*time.Millisecond {
		t.Errorf("min = %v, want -2ms", s.Min)
	}
	if s.Avg != 0 {
		t.Errorf("avg = %v, want 0", s.Avg)
	}
	if s.Jitter != 4*time.Millisecond {
		t.Errorf("jitter = %v, want 4ms", s.Jitter)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := summarize(nil)
	if s != (Summary{}) {
		t.Errorf("empty summary = %+v, want zero", s)
	}
}

func TestSummarizeSingle(t *testing.T) {
	s := summarize([]time.Duration{5 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Avg || s.Jitter != 0 {
		t.Errorf("single-sample summary = %+v", s)
	}
}
