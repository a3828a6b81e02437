package models

import "time"

// BundleOutcome is the per-bundle result reported to callers and persisted
// by the outcome stores. Verified reflects the verification policy the
// relay client was configured with, not necessarily full-bundle success.
type BundleOutcome struct {
	BundleID      string    `json:"bundle_id" ch:"bundle_id"` // relay id, may be empty
	Timestamp     time.Time `json:"timestamp" ch:"timestamp"`
	Sent          bool      `json:"sent" ch:"sent"`
	Verified      bool      `json:"verified" ch:"verified"`
	Units         int       `json:"units" ch:"units"`
	VerifiedUnits int       `json:"verified_units" ch:"verified_units"`
	Signatures    []string  `json:"signatures" ch:"signatures"`
	TipLamports   uint64    `json:"tip_lamports" ch:"tip_lamports"`
	Collector     string    `json:"collector" ch:"collector"`
	// UnpackedActors lists actors whose instructions could not be packed
	// under the wire-size ceiling and were left out of the bundle. The
	// caller owns rescheduling them.
	UnpackedActors []string `json:"unpacked_actors,omitempty" ch:"unpacked_actors"`
	Error          string   `json:"error,omitempty" ch:"error"`
}
