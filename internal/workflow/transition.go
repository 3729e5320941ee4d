package workflow

import "github.com/roach88/fieldledger/internal/config"

// enabled reports whether cfg turns the step on.
func enabled(cfg config.WorkflowConfig, step Step) bool {
	switch step {
	case StepApproval:
		return cfg.Approval
	case StepFulfillment:
		return cfg.Fulfillment
	case StepPickup:
		return cfg.Pickup
	case StepAcknowledgment:
		return cfg.Acknowledgment
	}
	return false
}

// firstStep returns the status awaiting the first enabled step, or
// completed when every step is disabled.
func firstStep(cfg config.WorkflowConfig) Status {
	for _, step := range stepOrder {
		if enabled(cfg, step) {
			return pendingStatus(step)
		}
	}
	return StatusCompleted
}

// Transition computes the status that follows once the step awaited by
// cur has passed, skipping disabled steps in the fixed order
// approval, fulfillment, pickup, acknowledgment. When no enabled step
// remains the request is completed.
func Transition(cur Status, cfg config.WorkflowConfig) Status {
	done, ok := awaitingStep(cur)
	if !ok {
		return cur
	}
	past := false
	for _, step := range stepOrder {
		if step == done {
			past = true
			continue
		}
		if past && enabled(cfg, step) {
			return pendingStatus(step)
		}
	}
	return StatusCompleted
}
