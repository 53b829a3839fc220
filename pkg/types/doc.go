// Package types defines the shared value types of the testbed: host
// identities and cloud instance records. All values are immutable by
// convention; components receive them read-only.
package types
