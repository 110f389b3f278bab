package calculator

import "github.com/mmynk/splitbot/internal/models"

// Net folds a transfer of amount from -> to into the pair's existing edges.
//
// forward is the current from->to edge and backward the current to->from edge (0 when absent).
// The returned pair never has both sides positive:
//   - an existing forward edge grows by amount
//   - otherwise a backward edge is consumed first and any excess becomes a forward edge
//   - otherwise a fresh forward edge is created
//
// A zero result means the row must be deleted.
func Net(forward, backward, amount models.Amount) (newForward, newBackward models.Amount) {
	switch {
	case forward > 0:
		return forward + amount, backward
	case backward > 0:
		if amount >= backward {
			return amount - backward, 0
		}
		return 0, backward - amount
	default:
		return amount, 0
	}
}
