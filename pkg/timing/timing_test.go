package timing

import (
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()

	timer.StartHandshake()
	time.Sleep(5 * time.Millisecond)
	timer.EndHandshake()

	timer.StartDial()
	time.Sleep(5 * time.Millisecond)
	timer.EndDial()

	timer.StartSplice()
	time.Sleep(5 * time.Millisecond)
	timer.EndSplice()

	metrics := timer.Metrics()

	if metrics.Handshake <= 0 {
		t.Error("handshake timing should be positive")
	}
	if metrics.Dial <= 0 {
		t.Error("dial timing should be positive")
	}
	if metrics.Splice <= 0 {
		t.Error("splice timing should be positive")
	}
	if metrics.Total <= 0 {
		t.Error("total timing should be positive")
	}
}

func TestTimerPartialPhasesStayZero(t *testing.T) {
	timer := NewTimer()
	timer.StartHandshake()
	timer.EndHandshake()
	// Dial/Splice never started.

	metrics := timer.Metrics()
	if metrics.Dial != 0 {
		t.Errorf("Dial = %v, want 0 (never started)", metrics.Dial)
	}
	if metrics.Splice != 0 {
		t.Errorf("Splice = %v, want 0 (never started)", metrics.Splice)
	}
}

func TestMetricsString(t *testing.T) {
	m := Metrics{
		Handshake: 10 * time.Millisecond,
		Dial:      20 * time.Millisecond,
		Splice:    30 * time.Millisecond,
		Total:     60 * time.Millisecond,
	}

	str := m.String()
	if str == "" {
		t.Fatal("string representation should not be empty")
	}
}
