package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/catalog/errs"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := errs.Attr(errs.ErrMissingAttribute, "Session", "organ", "required attribute not supplied")

	assert.ErrorIs(t, err, errs.ErrMissingAttribute)
	assert.NotErrorIs(t, err, errs.ErrDomainViolation)
	assert.Equal(t, "catalog: missing attribute: Session.organ: required attribute not supplied", err.Error())
}

func TestError_WrapKeepsCauseReachable(t *testing.T) {
	cause := errs.New(errs.ErrDanglingReference, "Scan.CameraParam", "no ScapeConfig.Camera row")
	err := fmt.Errorf("commit: %w", errs.Wrap(errs.ErrPartialCommitAborted, "Scan", cause))

	assert.ErrorIs(t, err, errs.ErrPartialCommitAborted)
	assert.ErrorIs(t, err, errs.ErrDanglingReference)
	assert.Equal(t, errs.ErrPartialCommitAborted, errs.KindOf(err))
}

func TestError_WithKey(t *testing.T) {
	err := errs.New(errs.ErrDuplicateKey, "Session", "row exists").WithKey([]string{"S1", "2024-01-02T03:04:05Z"})

	assert.Equal(t, "catalog: duplicate key: Session (S1, 2024-01-02T03:04:05Z): row exists", err.Error())

	var target *errs.Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, []string{"S1", "2024-01-02T03:04:05Z"}, target.Key)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Nil(t, errs.KindOf(errors.New("boom")))
	assert.Nil(t, errs.KindOf(nil))
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"schema conflict", errs.New(errs.ErrSchemaConflict, "Scan", "already registered"), true},
		{"cycle", errs.New(errs.ErrCyclicDependency, "A", "A -> B -> A"), true},
		{"duplicate key", errs.New(errs.ErrDuplicateKey, "Scan", "taken"), false},
		{"dangling", errs.New(errs.ErrDanglingReference, "Scan", "missing"), false},
		{"plain", errors.New("io"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, errs.Fatal(tt.err))
		})
	}
}
