package pgerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPostgresErrorClassifiesUniqueViolation(t *testing.T) {
	err := NewPostgresError(map[Field]string{
		FieldSeverity: "ERROR",
		FieldCode:     "23505",
		FieldMessage:  "duplicate key value violates unique constraint",
	}, "insert into t values (1)")

	var uv *UniqueViolationError
	require.ErrorAs(t, err, &uv)
	require.Equal(t, "23505", string(uv.Code()))
	require.Contains(t, uv.Error(), "insert into t values (1)")
}

func TestNewPostgresErrorClassifiesByClassWhenNoExactMatch(t *testing.T) {
	err := NewPostgresError(map[Field]string{
		FieldCode:    "42601",
		FieldMessage: "syntax error",
	}, "")

	var se *SyntaxOrAccessError
	require.ErrorAs(t, err, &se)
}

func TestNewPostgresErrorFallsBackToBase(t *testing.T) {
	err := NewPostgresError(map[Field]string{
		FieldCode:    "53300",
		FieldMessage: "too many connections",
	}, "")

	var base *PostgresError
	require.ErrorAs(t, err, &base)

	var uv *UniqueViolationError
	require.False(t, errors.As(err, &uv))
}

func TestInterfaceErrorMessage(t *testing.T) {
	err := NewInterfaceError(InProgress, "an operation is already in flight")
	require.Contains(t, err.Error(), InProgress)
	require.Contains(t, err.Error(), "already in flight")
}
