package enums

// NotificationType is stored in notifications.type and keys the message
// templates in internal/notifications.
type NotificationType string

const (
	// to the inspection requester
	NotificationBidReceived     NotificationType = "bid_received"
	NotificationRefundCompleted NotificationType = "refund_completed"
	NotificationReportSubmitted NotificationType = "report_submitted"

	// to the inspector
	NotificationBidAccepted     NotificationType = "bid_accepted"
	NotificationBidDeclined     NotificationType = "bid_declined"
	NotificationPaymentReceived NotificationType = "payment_received"
	NotificationPayoutOnboard   NotificationType = "payout_onboarding_required"

	// to both parties
	NotificationJobCancelled NotificationType = "job_cancelled"
)
