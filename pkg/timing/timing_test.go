package timing

import (
	"testing"
	"time"
)

func TestTimerAccumulatesPhases(t *testing.T) {
	tm := NewTimer()

	tm.StartDNS()
	time.Sleep(time.Millisecond)
	tm.EndDNS()

	tm.StartTCP()
	time.Sleep(time.Millisecond)
	tm.EndTCP()

	tm.StartTTFB()
	time.Sleep(time.Millisecond)
	tm.EndTTFB()

	m := tm.GetMetrics()
	if m.DNSLookup <= 0 {
		t.Error("expected DNSLookup > 0")
	}
	if m.TCPConnect <= 0 {
		t.Error("expected TCPConnect > 0")
	}
	if m.TLSHandshake != 0 {
		t.Error("expected TLSHandshake to stay zero when never started")
	}
	if m.TTFB <= 0 {
		t.Error("expected TTFB > 0")
	}
	if m.TotalTime <= 0 {
		t.Error("expected TotalTime > 0")
	}
}

func TestMetricsDerivedHelpers(t *testing.T) {
	m := Metrics{
		DNSLookup:    10 * time.Millisecond,
		TCPConnect:   20 * time.Millisecond,
		TLSHandshake: 30 * time.Millisecond,
		TTFB:         40 * time.Millisecond,
		TotalTime:    100 * time.Millisecond,
	}

	if got := m.GetConnectionTime(); got != 60*time.Millisecond {
		t.Errorf("GetConnectionTime() = %v, want 60ms", got)
	}
	if got := m.GetServerTime(); got != 40*time.Millisecond {
		t.Errorf("GetServerTime() = %v, want 40ms", got)
	}
	if got := m.GetNetworkTime(); got != 60*time.Millisecond {
		t.Errorf("GetNetworkTime() = %v, want 60ms", got)
	}
}

func TestMetricsStringIncludesAllPhases(t *testing.T) {
	m := Metrics{TotalTime: time.Second}
	s := m.String()
	for _, want := range []string{"DNSLookup", "TCPConnect", "TLSHandshake", "TTFB", "TotalTime"} {
		if !contains(s, want) {
			t.Errorf("String() missing %q: %s", want, s)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
