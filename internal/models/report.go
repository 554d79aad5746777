package models

import (
	"fmt"
	"strings"
	"time"
)

// ReportKind identifies the type of aviation weather report.
type ReportKind string

const (
	// KindMETAR is a routine surface observation (current conditions).
	KindMETAR ReportKind = "metar"
	// KindTAF is a terminal aerodrome forecast.
	KindTAF ReportKind = "taf"
)

// ParseReportKind maps user input ("metar", "TAF", "current", "forecast") to a ReportKind.
func ParseReportKind(s string) (ReportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "metar", "current":
		return KindMETAR, nil
	case "taf", "forecast":
		return KindTAF, nil
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

func (k ReportKind) String() string {
	return string(k)
}

// Report is a raw report for one station as returned by the upstream source.
type Report struct {
	Station   string     `json:"station"`
	Kind      ReportKind `json:"kind"`
	Text      string     `json:"text"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

// Outcome is the overall result of a fetch.
type Outcome int

const (
	OutcomeAbsent Outcome = iota
	OutcomeFresh
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeStale:
		return "stale"
	default:
		return "absent"
	}
}

// AbsentReason explains why no report could be produced.
type AbsentReason string

const (
	ReasonNone        AbsentReason = ""
	ReasonNotFound    AbsentReason = "not_found"
	ReasonUnavailable AbsentReason = "unavailable"
	ReasonUnexpected  AbsentReason = "unexpected"
)

// Result is what a fetch hands back to callers. Exactly one of three shapes:
// a fresh report, a stale report with its age, or absent with a reason.
type Result struct {
	Outcome   Outcome
	Report    Report
	Age       time.Duration
	FromCache bool
	Reason    AbsentReason
}

// Fresh builds a fresh result.
func Fresh(r Report, fromCache bool) Result {
	return Result{Outcome: OutcomeFresh, Report: r, FromCache: fromCache}
}

// Stale builds a stale result served from cache after an upstream failure.
func Stale(r Report, age time.Duration) Result {
	if age < 0 {
		age = 0
	}
	return Result{Outcome: OutcomeStale, Report: r, Age: age, FromCache: true}
}

// Absent builds an absent result.
func Absent(reason AbsentReason) Result {
	return Result{Outcome: OutcomeAbsent, Reason: reason}
}

// OK reports whether the result carries a report.
func (r Result) OK() bool {
	return r.Outcome != OutcomeAbsent
}

// AgeMinutes is the age of a stale report in whole minutes.
func (r Result) AgeMinutes() int {
	return int(r.Age / time.Minute)
}

// Text returns the report text, with a staleness marker appended for stale results.
// Absent results return "".
func (r Result) Text() string {
	switch r.Outcome {
	case OutcomeFresh:
		return r.Report.Text
	case OutcomeStale:
		return r.Report.Text + " " + StalenessMarker(r.Age)
	default:
		return ""
	}
}

// StalenessMarker formats the annotation attached to stale reports, e.g. "[CACHED 45m ago]".
func StalenessMarker(age time.Duration) string {
	return fmt.Sprintf("[CACHED %dm ago]", int(age/time.Minute))
}
