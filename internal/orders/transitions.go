package orders

import "github.com/joao-fontenele/fleetorders/internal/domain"

var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusInProgress, domain.OrderStatusCancelled},
	domain.OrderStatusInProgress: {domain.OrderStatusCompleted, domain.OrderStatusPending},
	domain.OrderStatusCompleted:  {},
	domain.OrderStatusCancelled:  {},
}

// CanTransition always allows re-applying the current status.
func CanTransition(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func NextStatuses(status domain.OrderStatus) []domain.OrderStatus {
	next := transitions[status]
	out := make([]domain.OrderStatus, len(next))
	copy(out, next)
	return out
}
