package arbiter

import "errors"

// Sentinel errors for the engine's failure modes.
//
// Authoring errors (ErrPathResolution, ErrInvalidOperand,
// ErrUnknownExpressionKind) indicate a programming mistake in a policy
// definition. They surface at policy construction or on first use and are
// not recoverable.
//
// Declaration errors (ErrUndeclaredTable, ErrUndeclaredColumn,
// ErrUncorrelatedSubquery) are raised by Compile when a rule references
// something the caller did not declare. A compiled predicate never silently
// omits a clause; these always propagate.
//
// Data-shape errors (ErrMissingActorField) are raised when the actor record
// lacks a field a tenant rule requires. A wrong tenant comparison is a
// security hazard, so this is fatal rather than a silent false.
//
// Use the Is*Err helpers to classify errors without spelling out errors.Is
// at every call site.
var (
	// ErrPathResolution is returned when a symbolic path cannot be
	// normalized into a concrete (table, column) reference.
	ErrPathResolution = errors.New("arbiter: path resolution failed")

	// ErrInvalidOperand is returned when a value position receives
	// something other than a column reference, a bound actor value, or a
	// supported primitive.
	ErrInvalidOperand = errors.New("arbiter: invalid operand")

	// ErrUnknownExpressionKind is returned when an interpreter encounters
	// an expression node it does not recognize. Operator-built trees never
	// trigger this; it indicates a corrupted or hand-built node.
	ErrUnknownExpressionKind = errors.New("arbiter: unknown expression kind")

	// ErrUndeclaredTable is returned by Compile when a rule references a
	// table absent from the caller-supplied mapping.
	ErrUndeclaredTable = errors.New("arbiter: table not declared")

	// ErrUndeclaredColumn is returned by Compile when a rule references a
	// column absent from its table's declared column set.
	ErrUndeclaredColumn = errors.New("arbiter: column not declared")

	// ErrUncorrelatedSubquery is returned by Compile when an exists/count
	// predicate references no outer subject path. An uncorrelated subquery
	// answers the same for every row, which is never what a row filter
	// means.
	ErrUncorrelatedSubquery = errors.New("arbiter: uncorrelated subquery")

	// ErrMissingActorField is returned when a tenant rule names an actor
	// field that is absent from the actor record.
	ErrMissingActorField = errors.New("arbiter: actor field missing")

	// ErrUnknownAction is returned when a policy is asked for an action
	// name it does not define.
	ErrUnknownAction = errors.New("arbiter: unknown action")

	// ErrRuleDepthExceeded is returned when rule functions expand into
	// further rule functions past the supported nesting depth.
	ErrRuleDepthExceeded = errors.New("arbiter: rule nesting too deep")
)

// IsPathResolutionErr returns true if err is or wraps ErrPathResolution.
func IsPathResolutionErr(err error) bool {
	return errors.Is(err, ErrPathResolution)
}

// IsInvalidOperandErr returns true if err is or wraps ErrInvalidOperand.
func IsInvalidOperandErr(err error) bool {
	return errors.Is(err, ErrInvalidOperand)
}

// IsUndeclaredTableErr returns true if err is or wraps ErrUndeclaredTable.
func IsUndeclaredTableErr(err error) bool {
	return errors.Is(err, ErrUndeclaredTable)
}

// IsUndeclaredColumnErr returns true if err is or wraps ErrUndeclaredColumn.
func IsUndeclaredColumnErr(err error) bool {
	return errors.Is(err, ErrUndeclaredColumn)
}

// IsUncorrelatedSubqueryErr returns true if err is or wraps ErrUncorrelatedSubquery.
func IsUncorrelatedSubqueryErr(err error) bool {
	return errors.Is(err, ErrUncorrelatedSubquery)
}

// IsMissingActorFieldErr returns true if err is or wraps ErrMissingActorField.
func IsMissingActorFieldErr(err error) bool {
	return errors.Is(err, ErrMissingActorField)
}

// IsUnknownActionErr returns true if err is or wraps ErrUnknownAction.
func IsUnknownActionErr(err error) bool {
	return errors.Is(err, ErrUnknownAction)
}
