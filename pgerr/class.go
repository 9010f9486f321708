package pgerr

import "github.com/corvidlabs/pgproto/codes"

// UniqueViolationError is raised for SQLSTATE 23505.
type UniqueViolationError struct{ *PostgresError }

// QueryCanceledError is raised for SQLSTATE 57014, the typical result of a
// best-effort cancel reaching the server in time.
type QueryCanceledError struct{ *PostgresError }

// InvalidAuthorizationError covers SQLSTATE class 28 (authentication and
// authorization failures raised by the server itself, as opposed to an
// Authenticator rejecting a challenge client-side).
type InvalidAuthorizationError struct{ *PostgresError }

// SerializationFailureError covers SQLSTATE class 40 (transaction rollback,
// most commonly a serialization failure or deadlock).
type SerializationFailureError struct{ *PostgresError }

// SyntaxOrAccessError covers SQLSTATE class 42 (syntax error or undefined
// object / insufficient privilege).
type SyntaxOrAccessError struct{ *PostgresError }

// classify inspects the SQLSTATE code of base and returns the narrowest
// known subclass, or base itself when nothing more specific applies.
func classify(base *PostgresError) error {
	code := base.Code()

	switch code {
	case "23505":
		return &UniqueViolationError{base}
	case "57014":
		return &QueryCanceledError{base}
	}

	switch codes.Class(code) {
	case codes.ClassInvalidAuthorization:
		return &InvalidAuthorizationError{base}
	case codes.ClassTransactionRollback:
		return &SerializationFailureError{base}
	case codes.ClassSyntaxOrAccessRule:
		return &SyntaxOrAccessError{base}
	}

	return base
}
