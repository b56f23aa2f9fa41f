// Package attempts implements the per-identifier brute-force defense used by
// the portal login: progressive temporary lockouts and permanent
// deactivation, computed from wall-clock deltas so that a restart never
// resets a lockout clock.
package attempts
