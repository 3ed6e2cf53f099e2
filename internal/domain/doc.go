// Package domain models coastal sea-level gauge readings and the quality
// control records derived from them.
//
// # Station network
//
// Gauges are grouped by how they relate to the shared reference level:
//
//	reference       Yafo, Ashdod, Ashkelon   offset 0     tolerance 3 cm
//	coastal         Haifa                    offset +4 cm tolerance 5 cm
//	                Acre                     offset +8 cm tolerance 5 cm
//	extreme_offset  Eilat                    offset +28 cm tolerance 6 cm
//
// Only reference stations contribute to the baseline. Every other station's
// expected value is the baseline plus its fixed offset. Offsets and tolerances
// are configuration constants and are never estimated from data.
//
// Ashkelon reports on its own clock, so its readings rarely share a timestamp
// with the other reference gauges. The profile marks it asynchronous and the
// QC engine validates it against a ±1 hour window instead.
//
// # Units
//
// Values are meters above the national datum. Timestamps are UTC and, in
// practice, aligned to the hour.
package domain
