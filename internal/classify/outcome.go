package classify

// OutcomeType is the closed set of event types ledgerline accepts.
// A rule table must cover exactly these types.
type OutcomeType string

const (
	PaymentFailed           OutcomeType = "PAYMENT_FAILED"
	NoShow                  OutcomeType = "NO_SHOW"
	ContractCancelRequested OutcomeType = "CONTRACT_CANCEL_REQUESTED"
	CustomerComplaint       OutcomeType = "CUSTOMER_COMPLAINT"
	ChargebackReceived      OutcomeType = "CHARGEBACK_RECEIVED"
	SlotConflict            OutcomeType = "SLOT_CONFLICT"

	PaymentSucceeded    OutcomeType = "PAYMENT_SUCCEEDED"
	SessionCompleted    OutcomeType = "SESSION_COMPLETED"
	ReviewPositive      OutcomeType = "REVIEW_POSITIVE"
	ReviewNegative      OutcomeType = "REVIEW_NEGATIVE"
	MessageReplied      OutcomeType = "MESSAGE_REPLIED"
	RenewalReminderSent OutcomeType = "RENEWAL_REMINDER_SENT"

	ContractCompleted OutcomeType = "CONTRACT_COMPLETED"
	ContractClosed    OutcomeType = "CONTRACT_CLOSED"
	CustomerChurned   OutcomeType = "CUSTOMER_CHURNED"

	ContractIntake       OutcomeType = "CONTRACT_INTAKE"
	StateTransition      OutcomeType = "STATE_TRANSITION"
	PolicyRegistered     OutcomeType = "POLICY_REGISTERED"
	PolicyObserved       OutcomeType = "POLICY_OBSERVED"
	PolicyExecuted       OutcomeType = "POLICY_EXECUTED"
	PolicyActualRecorded OutcomeType = "POLICY_ACTUAL_RECORDED"
	PolicyPromoted       OutcomeType = "POLICY_PROMOTED"
	PolicyKilled         OutcomeType = "POLICY_KILLED"
)

// AllOutcomeTypes lists every known type.
var AllOutcomeTypes = []OutcomeType{
	PaymentFailed, NoShow, ContractCancelRequested, CustomerComplaint, ChargebackReceived, SlotConflict,
	PaymentSucceeded, SessionCompleted, ReviewPositive, ReviewNegative, MessageReplied, RenewalReminderSent,
	ContractCompleted, ContractClosed, CustomerChurned,
	ContractIntake, StateTransition,
	PolicyRegistered, PolicyObserved, PolicyExecuted, PolicyActualRecorded, PolicyPromoted, PolicyKilled,
}

var knownTypes = func() map[OutcomeType]struct{} {
	m := make(map[OutcomeType]struct{}, len(AllOutcomeTypes))
	for _, t := range AllOutcomeTypes {
		m[t] = struct{}{}
	}
	return m
}()

// Known reports whether t is in the closed set.
func (t OutcomeType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Downstream processes a rule can name.
const (
	ProcessIntervention    = "intervention"
	ProcessShadowWatch     = "shadow_watch"
	ProcessLiabilityReview = "liability_review"
	ProcessClosure         = "closure"
)

// processTargets maps a process to the lifecycle state it drives a contract into.
var processTargets = map[string]string{
	ProcessIntervention:    "S4",
	ProcessShadowWatch:     "S7",
	ProcessLiabilityReview: "S8",
	ProcessClosure:         "S9",
}

// ProcessTarget returns the target lifecycle state for a process name.
func ProcessTarget(process string) (state string, ok bool) {
	state, ok = processTargets[process]
	return state, ok
}
