package models

import (
	"testing"
	"time"
)

func TestParseReportKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ReportKind
		wantErr bool
	}{
		{"metar", KindMETAR, false},
		{"METAR", KindMETAR, false},
		{" current ", KindMETAR, false},
		{"taf", KindTAF, false},
		{"Forecast", KindTAF, false},
		{"pirep", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseReportKind(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseReportKind(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseReportKind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStalenessMarker(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{0, "[CACHED 0m ago]"},
		{59 * time.Second, "[CACHED 0m ago]"},
		{45 * time.Minute, "[CACHED 45m ago]"},
		{31*time.Minute + 30*time.Second, "[CACHED 31m ago]"},
		{3 * time.Hour, "[CACHED 180m ago]"},
	}
	for _, tc := range tests {
		if got := StalenessMarker(tc.age); got != tc.want {
			t.Errorf("StalenessMarker(%v) = %q, want %q", tc.age, got, tc.want)
		}
	}
}

func TestResult_Text(t *testing.T) {
	r := Report{Station: "KSAT", Kind: KindMETAR, Text: "KSAT 211851Z 16012KT 10SM FEW040 29/18 A2992"}

	if got := Fresh(r, false).Text(); got != r.Text {
		t.Errorf("Fresh().Text() = %q, want %q", got, r.Text)
	}

	stale := Stale(r, 45*time.Minute)
	want := r.Text + " [CACHED 45m ago]"
	if got := stale.Text(); got != want {
		t.Errorf("Stale().Text() = %q, want %q", got, want)
	}
	if stale.AgeMinutes() != 45 {
		t.Errorf("AgeMinutes() = %d, want 45", stale.AgeMinutes())
	}
	if !stale.FromCache {
		t.Error("Stale().FromCache = false, want true")
	}

	absent := Absent(ReasonUnavailable)
	if absent.OK() {
		t.Error("Absent().OK() = true, want false")
	}
	if absent.Text() != "" {
		t.Errorf("Absent().Text() = %q, want empty", absent.Text())
	}
}

func TestStale_NegativeAgeClamped(t *testing.T) {
	got := Stale(Report{Text: "x"}, -time.Minute)
	if got.Age != 0 {
		t.Errorf("Age = %v, want 0", got.Age)
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeFresh.String() != "fresh" || OutcomeStale.String() != "stale" || OutcomeAbsent.String() != "absent" {
		t.Errorf("unexpected outcome labels: %s %s %s", OutcomeFresh, OutcomeStale, OutcomeAbsent)
	}
}
