package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderReturned      = "order.returned"
	TopicLoyaltyRedeemed    = "loyalty.redeemed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderStatusChanged,
		TopicOrderCancelled,
		TopicOrderReturned,
		TopicLoyaltyRedeemed,
	}
}
