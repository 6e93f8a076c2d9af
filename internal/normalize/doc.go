// Package normalize turns decoded XAPI responses into typed domain records.
//
// The functions here are pure: they read an *xapi.Node and never perform
// I/O. Missing or malformed fields fall back to documented defaults instead
// of failing, so a partially populated device response still yields a
// usable record.
package normalize
