// Package audit records who tried to do what and how it was decided.
//
// The trail is write-only from clearway's perspective. Sinks are pluggable:
// the database sink writes through stored procedures, the file sink appends
// NDJSON, and MultiLogger fans out to both. A sink failure is counted and
// logged but never blocks or fails the request that produced the event;
// enforcement does not depend on the trail.
package audit
