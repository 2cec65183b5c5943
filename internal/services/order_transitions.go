package services

import (
	"fmt"
	"strings"

	domain "github.com/fleetbite/api/internal/domain"
)

// Actor roles recognised by the order state machine.
const (
	RoleCustomer = "customer"
	RoleCourier  = "courier"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// transitionRule describes who may request one edge of the order lifecycle
// and which side effects it carries. Cancellations restore reserved stock
// and hand the order's items back as the user's cart.
type transitionRule struct {
	roles         []string
	ownerOnly     bool
	bindsCourier  bool
	clearsCourier bool
	restoresStock bool
	restoresCart  bool
}

type transitionKey struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// orderTransitions is the exhaustive edge table of the order state machine.
// An absent key means the edge does not exist for any role.
var orderTransitions = map[transitionKey]transitionRule{
	{domain.OrderStatusAwaitingPayment, domain.OrderStatusPending}: {
		roles: []string{RoleSystem, RoleStaff, RoleAdmin},
	},
	{domain.OrderStatusAwaitingPayment, domain.OrderStatusConfirmed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusAwaitingPayment, domain.OrderStatusFailed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusAwaitingPayment, domain.OrderStatusCancelled}: {
		roles:         []string{RoleSystem, RoleStaff, RoleAdmin, RoleCustomer},
		ownerOnly:     true,
		restoresStock: true,
		restoresCart:  true,
	},
	{domain.OrderStatusPending, domain.OrderStatusConfirmed}: {
		roles: []string{RoleStaff, RoleAdmin},
	},
	{domain.OrderStatusPending, domain.OrderStatusFailed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusPending, domain.OrderStatusCancelled}: {
		roles:         []string{RoleSystem, RoleStaff, RoleAdmin, RoleCustomer},
		ownerOnly:     true,
		restoresStock: true,
		restoresCart:  true,
	},
	{domain.OrderStatusConfirmed, domain.OrderStatusReadyForDelivery}: {
		roles: []string{RoleStaff, RoleAdmin},
	},
	{domain.OrderStatusConfirmed, domain.OrderStatusFailed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusConfirmed, domain.OrderStatusCancelled}: {
		roles:         []string{RoleSystem, RoleStaff, RoleAdmin},
		restoresStock: true,
		restoresCart:  true,
	},
	{domain.OrderStatusReadyForDelivery, domain.OrderStatusOutForDelivery}: {
		roles:        []string{RoleCourier},
		bindsCourier: true,
	},
	{domain.OrderStatusReadyForDelivery, domain.OrderStatusFailed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusReadyForDelivery, domain.OrderStatusCancelled}: {
		roles:         []string{RoleSystem, RoleStaff, RoleAdmin},
		restoresStock: true,
		restoresCart:  true,
	},
	{domain.OrderStatusOutForDelivery, domain.OrderStatusReadyForDelivery}: {
		roles:         []string{RoleCourier},
		clearsCourier: true,
	},
	{domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered}: {
		roles: []string{RoleCourier, RoleStaff, RoleAdmin},
	},
	{domain.OrderStatusOutForDelivery, domain.OrderStatusFailed}: {
		roles: []string{RoleSystem},
	},
	{domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled}: {
		roles:         []string{RoleSystem, RoleStaff, RoleAdmin},
		restoresStock: true,
		restoresCart:  true,
	},
}

// transitionRuleFor resolves the edge rule for a requested status change.
// The returned error carries the rejection reason for conflict responses.
func transitionRuleFor(current, target domain.OrderStatus, role string) (transitionRule, error) {
	if current.IsTerminal() {
		return transitionRule{}, fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, current)
	}
	rule, ok := orderTransitions[transitionKey{current, target}]
	if !ok {
		return transitionRule{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}
	role = strings.ToLower(strings.TrimSpace(role))
	for _, allowed := range rule.roles {
		if role == allowed {
			return rule, nil
		}
	}
	return transitionRule{}, fmt.Errorf("%w: role %q may not move an order from %s to %s", ErrOrderInvalidState, role, current, target)
}
