package stats

import (
	"strings"
	"testing"
	"time"
)

func TestNilStatisticsIsANoOp(t *testing.T) {
	var s *Statistics
	s.SetNumDev(4)
	s.AddMemCpy(HtoD, 1024, time.Millisecond)
	s.AddDepResCpy(512)
	s.AddDepResExec(time.Millisecond)
	s.AddDepResObject(time.Millisecond)
	s.AddLaunchExec()
	s.AddLaunchObject(time.Millisecond)
	s.AddArgAccessCall(true, time.Millisecond)
	if got := s.Report(); !strings.Contains(got, "disabled") {
		t.Errorf("nil Statistics.Report: got %q, want a message noting collection is disabled", got)
	}
}

func TestAddMemCpyAccumulatesAndReports(t *testing.T) {
	s := New()
	s.SetNumDev(2)
	s.AddMemCpy(HtoD, 1000, time.Second)
	s.AddMemCpy(HtoD, 2000, time.Second)

	if bw := s.MemCpyBW(HtoD); bw <= 0 {
		t.Errorf("MemCpyBW(HtoD): got %v, want > 0", bw)
	}
	report := s.Report()
	if !strings.Contains(report, "2 devices") {
		t.Errorf("report missing device count: %s", report)
	}
	if !strings.Contains(report, "HtoD: 2 copies, 3000 bytes") {
		t.Errorf("report missing accumulated HtoD totals: %s", report)
	}
}

func TestAddLaunchObjectAndExecCounters(t *testing.T) {
	s := New()
	s.AddLaunchObject(time.Millisecond)
	s.AddLaunchExec()
	s.AddLaunchExec()
	report := s.Report()
	if !strings.Contains(report, "launches: 1 objects, 2 execs") {
		t.Errorf("report missing launch counters: %s", report)
	}
}

func TestAddArgAccessCallDistinguishesCacheHitsFromCalculations(t *testing.T) {
	s := New()
	s.AddArgAccessCall(true, time.Millisecond)
	s.AddArgAccessCall(false, 0)
	s.AddArgAccessCall(false, 0)
	report := s.Report()
	if !strings.Contains(report, "arg access: 3 calls, 1 calculations") {
		t.Errorf("report missing arg-access counters: %s", report)
	}
}
