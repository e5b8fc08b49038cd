package telemetry

import "testing"

func TestRecordLatencyAndAvg(t *testing.T) {
	m := NewMetrics()
	m.RecordLatency("detector", 10)
	m.RecordLatency("detector", 20)
	m.RecordLatency("detector", 30)

	if avg := m.Avg("detector"); avg != 20 {
		t.Errorf("Avg = %d, want 20", avg)
	}
}

func TestAvgZeroWithoutSamples(t *testing.T) {
	m := NewMetrics()
	if avg := m.Avg("unknown"); avg != 0 {
		t.Errorf("Avg = %d, want 0 for a stage with no samples", avg)
	}
}

func TestPercentilesOnKnownDistribution(t *testing.T) {
	m := NewMetrics()
	// 10 samples 10..100 in steps of 10, inserted out of sorted order.
	values := []int64{50, 10, 90, 30, 70, 20, 100, 40, 80, 60}
	for _, v := range values {
		m.RecordLatency("scorer", v)
	}

	// sorted: 10 20 30 40 50 60 70 80 90 100 (count=10)
	// p50 idx = 50*10/100 = 5 -> sorted[5] = 60
	if got := m.P50("scorer"); got != 60 {
		t.Errorf("P50 = %d, want 60", got)
	}
	// p95 idx = 95*10/100 = 9 -> sorted[9] = 100
	if got := m.P95("scorer"); got != 100 {
		t.Errorf("P95 = %d, want 100", got)
	}
	// p99 idx = 99*10/100 = 9 -> sorted[9] = 100
	if got := m.P99("scorer"); got != 100 {
		t.Errorf("P99 = %d, want 100", got)
	}
}

func TestPercentileZeroWithoutSamples(t *testing.T) {
	m := NewMetrics()
	if got := m.P50("unknown"); got != 0 {
		t.Errorf("P50 = %d, want 0", got)
	}
}

func TestRingBufferWrapsAfterCapacity(t *testing.T) {
	m := NewMetrics()
	// Ring buffer holds 200 samples; fill it with 200 samples of value 1,
	// then push one more sample of value 999, which must overwrite index 0.
	for i := 0; i < 200; i++ {
		m.RecordLatency("ingest", 1)
	}
	m.RecordLatency("ingest", 999)

	avg := m.Avg("ingest")
	// 199 samples of 1 plus one of 999, divided by 200.
	want := int64((199*1 + 999) / 200)
	if avg != want {
		t.Errorf("Avg after wraparound = %d, want %d", avg, want)
	}
}

func TestRecordErrorIncrementsNamedClass(t *testing.T) {
	m := NewMetrics()
	m.RecordError(ErrorInputShape)
	m.RecordError(ErrorInputShape)
	m.RecordError(ErrorTransient)

	counts := m.ErrorCounts()
	if counts[ErrorInputShape] != 2 {
		t.Errorf("ErrorInputShape count = %d, want 2", counts[ErrorInputShape])
	}
	if counts[ErrorTransient] != 1 {
		t.Errorf("ErrorTransient count = %d, want 1", counts[ErrorTransient])
	}
	if counts[ErrorLogical] != 0 {
		t.Errorf("ErrorLogical count = %d, want 0", counts[ErrorLogical])
	}
}

func TestStageNamesTracksOnlyRecordedStages(t *testing.T) {
	m := NewMetrics()
	m.RecordLatency("a", 1)
	m.RecordLatency("b", 1)

	names := m.StageNames()
	if len(names) != 2 {
		t.Fatalf("len(names) = %d, want 2", len(names))
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("StageNames = %v, want a and b", names)
	}
}
