package internaldefs

import (
	goAccount "github.com/MrEthical07/goAccount"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

// CounterDefs lists the exported counters in exposition order.
var CounterDefs = []CounterDef{
	{ID: goAccount.MetricVerificationStarted, Name: "goaccount_verification_started_total", Help: "Verification challenges issued and dispatched."},
	{ID: goAccount.MetricVerificationSuppressed, Name: "goaccount_verification_suppressed_total", Help: "Verification requests for unknown or ineligible accounts answered without sending."},
	{ID: goAccount.MetricVerificationRateLimited, Name: "goaccount_verification_rate_limited_total", Help: "Verification requests or confirmations denied by rate limits."},
	{ID: goAccount.MetricVerificationLockedOut, Name: "goaccount_verification_locked_out_total", Help: "Verification operations denied by an active lockout."},
	{ID: goAccount.MetricTransportFailure, Name: "goaccount_transport_failure_total", Help: "Verification mails that could not be delivered."},
	{ID: goAccount.MetricVerificationConfirmed, Name: "goaccount_verification_confirmed_total", Help: "Verification codes accepted."},
	{ID: goAccount.MetricVerificationInvalid, Name: "goaccount_verification_invalid_total", Help: "Verification codes rejected as wrong, expired or absent."},
	{ID: goAccount.MetricAttemptsExceeded, Name: "goaccount_attempts_exceeded_total", Help: "Challenges destroyed after exhausting their attempts."},
	{ID: goAccount.MetricPersistenceConflict, Name: "goaccount_persistence_conflict_total", Help: "Operations that lost a compare-and-swap race after retry."},
	{ID: goAccount.MetricSessionCreated, Name: "goaccount_session_created_total", Help: "Sessions minted."},
	{ID: goAccount.MetricSessionRevoked, Name: "goaccount_session_revoked_total", Help: "Session revocation operations."},
	{ID: goAccount.MetricAuthenticateSuccess, Name: "goaccount_authenticate_success_total", Help: "Session tokens accepted."},
	{ID: goAccount.MetricAuthenticateFailure, Name: "goaccount_authenticate_failure_total", Help: "Session tokens rejected."},
	{ID: goAccount.MetricAccountDeactivated, Name: "goaccount_account_deactivated_total", Help: "Account deactivation notifications handled."},
	{ID: goAccount.MetricSweepRemoved, Name: "goaccount_sweep_removed_total", Help: "Expired records removed by housekeeping."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: goAccount.MetricAuthenticateLatency, Name: "goaccount_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
