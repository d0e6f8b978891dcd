// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "bnpl/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing PlanID where UserID is expected.
type (
	UserID uuid.UUID
	PlanID uuid.UUID
)

// OrderID references an order owned by the external order service. It is opaque here.
type OrderID string

// MaxOrderIDLength bounds the opaque order reference stored on a plan.
const MaxOrderIDLength = 128

// Parse functions - use at trust boundaries (handlers, event consumers).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParsePlanID(s string) (PlanID, error) {
	id, err := parseUUID(s, "plan ID")
	return PlanID(id), err
}

func ParseOrderID(s string) (OrderID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "order ID cannot be empty")
	}
	if len(s) > MaxOrderIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "order ID too long")
	}
	return OrderID(s), nil
}

// NewPlanID generates a fresh plan identifier.
func NewPlanID() PlanID { return PlanID(uuid.New()) }

func (id UserID) String() string  { return uuid.UUID(id).String() }
func (id PlanID) String() string  { return uuid.UUID(id).String() }
func (id OrderID) String() string { return string(id) }

func (id UserID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PlanID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id OrderID) IsNil() bool { return id == "" }

// parseUUID is the shared validation logic.
// Nil UUIDs parse successfully; IsNil() is checked at the service layer.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
