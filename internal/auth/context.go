// ABOUTME: Context propagation for the authenticated operator identity
// ABOUTME: WithOperator/FromContext pair used by middleware and handlers

package auth

import (
	"context"
)

// operatorKey is the key type for storing Operator in a context.
type operatorKey struct{}

// WithOperator returns a context carrying the operator identity.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// FromContext retrieves the operator from the context, nil if absent.
func FromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey{}).(*Operator)
	return op
}

// IsAdmin reports whether the operator holds the admin role.
func (o *Operator) IsAdmin() bool {
	return o != nil && o.Role == RoleAdmin
}
