package codes

// Class returns the two-character SQLSTATE class prefix of code, used to
// bucket a server error into one of the broad PostgreSQL error classes
// (http://www.postgresql.org/docs/9.5/static/errcodes-appendix.html).
func Class(code Code) string {
	if len(code) < 2 {
		return string(code)
	}

	return string(code[:2])
}

// IsClass reports whether code belongs to the given two-character class.
func IsClass(code Code, class string) bool {
	return Class(code) == class
}

// Well-known classes. pgerr picks a concrete error type by the
// authorization (28), transaction rollback (40) and syntax/access (42)
// classes; the others are not consulted there.
const (
	ClassConnectionException  = "08"
	ClassIntegrityConstraint  = "23"
	ClassInvalidAuthorization = "28"
	ClassTransactionRollback  = "40"
	ClassOperatorIntervention = "57"
	ClassSyntaxOrAccessRule   = "42"
)
