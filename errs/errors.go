// Package errs defines the error taxonomy shared by the catalog packages.
//
// Every failure is reported as an [*Error] whose Kind is one of the sentinel
// errors below, so callers can branch with errors.Is while still reading the
// offending entity, attribute and key from the value.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaConflict is returned when a declaration clashes with the registry.
	ErrSchemaConflict = errors.New("catalog: schema conflict")

	// ErrUnknownEntity is returned when an entity type is not registered.
	ErrUnknownEntity = errors.New("catalog: unknown entity type")

	// ErrCyclicDependency is returned when declarations form a dependency cycle.
	ErrCyclicDependency = errors.New("catalog: cyclic dependency")

	// ErrUnknownVocabulary is returned when a vocabulary is not defined.
	ErrUnknownVocabulary = errors.New("catalog: unknown vocabulary")

	// ErrVocabularyClosed is returned when adding to a closed enumeration.
	ErrVocabularyClosed = errors.New("catalog: vocabulary is closed")

	// ErrMissingAttribute is returned when a required attribute is absent.
	ErrMissingAttribute = errors.New("catalog: missing attribute")

	// ErrDomainViolation is returned when a value does not fit its attribute domain.
	ErrDomainViolation = errors.New("catalog: domain violation")

	// ErrInvalidVocabularyValue is returned when a value is not a vocabulary member.
	ErrInvalidVocabularyValue = errors.New("catalog: invalid vocabulary value")

	// ErrDanglingReference is returned when a foreign key does not resolve.
	ErrDanglingReference = errors.New("catalog: dangling reference")

	// ErrDuplicateKey is returned when a full key is already taken.
	ErrDuplicateKey = errors.New("catalog: duplicate key")

	// ErrOrphanPart is returned when a part row has no master to belong to.
	ErrOrphanPart = errors.New("catalog: orphan part")

	// ErrPartialCommitAborted is returned when a master/parts commit was rolled back.
	ErrPartialCommitAborted = errors.New("catalog: partial commit aborted")

	// ErrReferentialBlock is returned when a delete is blocked by referencing rows.
	ErrReferentialBlock = errors.New("catalog: delete blocked by references")

	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("catalog: row not found")

	// ErrImmutableKey is returned when an update touches a key attribute.
	ErrImmutableKey = errors.New("catalog: key attributes are immutable")

	// ErrOwnedPart is returned when a part row is deleted apart from its master.
	ErrOwnedPart = errors.New("catalog: part rows are deleted with their master")
)

// Error carries a taxonomy kind together with the location of the failure.
type Error struct {
	Kind      error
	Entity    string
	Attribute string
	Key       []string
	Msg       string
	Err       error
}

// New returns an *Error of the given kind for entity.
func New(kind error, entity string, format string, args ...any) *Error {
	return &Error{Kind: kind, Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// Attr returns an *Error of the given kind for a single attribute of entity.
func Attr(kind error, entity, attribute string, format string, args ...any) *Error {
	return &Error{Kind: kind, Entity: entity, Attribute: attribute, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind that wraps cause.
func Wrap(kind error, entity string, cause error) *Error {
	return &Error{Kind: kind, Entity: entity, Err: cause}
}

// WithKey sets the row key the error refers to.
func (e *Error) WithKey(key []string) *Error {
	e.Key = key
	return e
}

// Error returns the error string.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.Attribute != "" {
			b.WriteString(".")
			b.WriteString(e.Attribute)
		}
	}
	if len(e.Key) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Key, ", "))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// Fatal reports whether err is a registration error that leaves the
// registries unusable. Per-write validation errors are recoverable.
func Fatal(err error) bool {
	return errors.Is(err, ErrSchemaConflict) || errors.Is(err, ErrCyclicDependency)
}
