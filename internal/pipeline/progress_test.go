package pipeline

import (
	"testing"
	"time"
)

func TestProgressCalculate(t *testing.T) {
	tracker := NewProgressTracker(100, "tiles")

	p := tracker.calculate(25, 10*time.Second)
	if p.Percentage != 25 {
		t.Errorf("Percentage = %v, want 25", p.Percentage)
	}
	if p.Throughput != 2.5 {
		t.Errorf("Throughput = %v, want 2.5", p.Throughput)
	}
	if p.ETA != 30*time.Second {
		t.Errorf("ETA = %v, want 30s", p.ETA)
	}
	if p.Description != "tiles" || p.Total != 100 {
		t.Errorf("unexpected progress %+v", p)
	}

	done := tracker.calculate(100, 10*time.Second)
	if done.Percentage != 100 || done.ETA != 0 {
		t.Errorf("finished progress = %+v", done)
	}

	unknown := NewProgressTracker(0, "tiles").calculate(5, time.Second)
	if unknown.Percentage != 0 || unknown.ETA != 0 {
		t.Errorf("progress without total = %+v", unknown)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "calculating..."},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + time.Minute + time.Second, "2h 1m 1s"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.d); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatThroughput(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{12, "12/s"},
		{1500, "1.5K/s"},
		{2_500_000, "2.5M/s"},
	}
	for _, tt := range tests {
		if got := FormatThroughput(tt.rate); got != tt.want {
			t.Errorf("FormatThroughput(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
