package events

// Topic constants for domain events emitted by the checkout service.
const (
	TopicTransactionFinalized = "pos.transaction.finalized"
	TopicSessionCanceled      = "pos.session.canceled"
)
