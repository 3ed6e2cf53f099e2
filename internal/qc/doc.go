// Package qc implements cross-station quality control for sea-level readings:
// reference-station validation, baseline calculation with a historical
// fallback, outlier detection and correction suggestions.
//
// Everything here is a pure function of its inputs plus the station
// registry. Nothing logs or touches I/O; callers decide what to do with
// statuses and errors.
package qc
