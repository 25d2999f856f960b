package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 10},
		{"default bucket size for negative", -1, 10},
		{"custom bucket size", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "step") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSampler_StepChange(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog(0, "gatherDeviceFiles") {
		t.Error("first step should log")
	}
	if s.ShouldLog(0, "gatherDeviceFiles") {
		t.Error("same step and percent should not log again")
	}
	if !s.ShouldLog(0, "clearStats") {
		t.Error("different step should log")
	}
}

func TestProgressSampler_Buckets(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog(0, "updateContent")
	if s.ShouldLog(5, "updateContent") {
		t.Error("5% stays in the first bucket")
	}
	if !s.ShouldLog(12, "updateContent") {
		t.Error("12% crosses into the next bucket")
	}
	if !s.ShouldLog(150, "updateContent") {
		t.Error("values above 100 clamp to the final bucket")
	}
	if s.ShouldLog(100, "updateContent") {
		t.Error("100% after clamped value should not log again")
	}
	s.Reset()
	if !s.ShouldLog(-1, "updateContent") {
		t.Error("after reset the step should log again")
	}
}
