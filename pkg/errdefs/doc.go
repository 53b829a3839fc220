// Package errdefs defines the error taxonomy shared by the testbed layers.
//
// Three kinds of failure exist:
//
//   - ConfigurationError: invalid input detected before any remote mutation;
//     fatal, never retried.
//   - RemoteOperationError: a daemon call or playbook run failed; the failing
//     batch has been rolled back before the error propagates.
//   - AlreadyTornDownError: a torn-down resource was used again; a
//     programming error on the caller's side.
//
// Callers classify errors with the Is* helpers, which follow errors.As
// through wrapped chains.
package errdefs
