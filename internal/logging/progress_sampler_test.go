package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	sampler := NewProgressSampler(5.0)

	if !sampler.ShouldLog("job-1", 0) {
		t.Fatal("expected first progress line to log")
	}
	if sampler.ShouldLog("job-1", 2.5) {
		t.Fatal("expected same-bucket progress to be suppressed")
	}
	if !sampler.ShouldLog("job-1", 5.1) {
		t.Fatal("expected next bucket to log")
	}
	if sampler.ShouldLog("job-1", 6.0) {
		t.Fatal("expected repeat of bucket to be suppressed")
	}
	if !sampler.ShouldLog("job-1", 47.0) {
		t.Fatal("expected jump across buckets to log")
	}
}

func TestProgressSamplerCompletionAlwaysLogs(t *testing.T) {
	sampler := NewProgressSampler(5.0)

	if !sampler.ShouldLog("job-2", 99.0) {
		t.Fatal("expected 99 percent to log")
	}
	if !sampler.ShouldLog("job-2", 100.0) {
		t.Fatal("expected completion to log")
	}
	if sampler.ShouldLog("job-2", 100.0) {
		t.Fatal("expected duplicate completion to be suppressed")
	}
}

func TestProgressSamplerKeysIndependent(t *testing.T) {
	sampler := NewProgressSampler(10.0)

	if !sampler.ShouldLog("a", 15.0) {
		t.Fatal("expected key a to log")
	}
	if !sampler.ShouldLog("b", 15.0) {
		t.Fatal("expected key b to log independently")
	}
}

func TestProgressSamplerReset(t *testing.T) {
	sampler := NewProgressSampler(5.0)

	if !sampler.ShouldLog("job-3", 50.0) {
		t.Fatal("expected first line to log")
	}
	sampler.Reset("job-3")
	if !sampler.ShouldLog("job-3", 50.0) {
		t.Fatal("expected reset key to log again")
	}
}

func TestProgressSamplerDefaultsInterval(t *testing.T) {
	sampler := NewProgressSampler(0)

	if !sampler.ShouldLog("job-4", 1.0) {
		t.Fatal("expected first line to log")
	}
	if sampler.ShouldLog("job-4", 4.9) {
		t.Fatal("expected default 5 percent bucket to suppress")
	}
	if !sampler.ShouldLog("job-4", 5.0) {
		t.Fatal("expected new default bucket to log")
	}
}
