package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobRetrying    = "job.retrying"
	ActionJobDLQ         = "job.dlq"
	ActionMessageSent    = "message.sent"
	ActionMessageFailed  = "message.failed"
	ActionRetentionSwept = "retention.swept"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "herald.job"
	CategoryMessage   = "herald.message"
	CategoryRetention = "herald.retention"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob     = "job"
	ResourceMessage = "message"
	ResourceStore   = "store"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionMessageSent,
		ActionMessageFailed,
		ActionRetentionSwept,
	}
}

// BillingActions are the actions that describe money moving or failing
// to move: deliveries and jobs that gave up.
func BillingActions() []string {
	return []string{
		ActionMessageSent,
		ActionMessageFailed,
		ActionJobFailed,
		ActionJobDLQ,
	}
}
