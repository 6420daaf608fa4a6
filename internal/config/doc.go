// Package config loads and validates runctl configuration.
//
// Configuration is written in CUE. The embedded schema (schema.cue) is a
// closed definition carrying every default, so a user file only names the
// values it changes and a typo in a field name is rejected:
//
//	primary_hz: 40_000_000
//	ack: run_prepare_id: 0xFE
//
// The identifiers in the ack block and debug_level correspond to values
// that are fixed when the firmware is built; the clock rates only pace the
// software run loops.
package config
