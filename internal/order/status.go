package order

import "ms-checkout/internal/models"

// statusWeight defines the total order of "forwardness". A transition is
// applied only if the new weight is strictly greater than the current one;
// cancellation is the exception and is allowed only from pending and
// processing: once money has settled (paid and beyond) the order never
// moves backwards.
var statusWeight = map[string]int{
	models.StatusPending:    0,
	models.StatusProcessing: 1,
	models.StatusPaid:       2,
	models.StatusShipped:    3,
	models.StatusDelivered:  4,
}

// AllowedFrom returns the set of statuses a transition into target may start
// from. The order store uses this list in a single conditional UPDATE
// (WHERE status IN (...)), which is what makes the transition race-safe.
func AllowedFrom(target string) []string {
	if target == models.StatusCancelled {
		return []string{models.StatusPending, models.StatusProcessing}
	}

	w, ok := statusWeight[target]
	if !ok {
		return nil
	}

	var allowed []string
	for status, weight := range statusWeight {
		if weight < w {
			allowed = append(allowed, status)
		}
	}
	return allowed
}

// IsTerminal reports whether no further transitions can leave the status.
func IsTerminal(status string) bool {
	return status == models.StatusDelivered || status == models.StatusCancelled
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	if s == models.StatusCancelled {
		return true
	}
	_, ok := statusWeight[s]
	return ok
}
