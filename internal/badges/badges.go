package badges

// Badge names derived by the inference engine.
const (
	BadgeNewBus       = "new-bus"
	BadgeRareWorking  = "rare-working"
	BadgeOperatorLoan = "operator-loan"
	BadgeWithdrawn    = "withdrawn"
)

// Known reports whether name is a recognised badge.
func Known(name string) bool {
	switch name {
	case BadgeNewBus, BadgeRareWorking, BadgeOperatorLoan, BadgeWithdrawn:
		return true
	}
	return false
}
