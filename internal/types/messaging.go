package types

import "time"

// NotificationMessage is the SQS payload published for email actions. The
// downstream mailer uses Subject and Message verbatim.
type NotificationMessage struct {
	NotificationID string     `json:"notification_id"`
	FarmID         string     `json:"farm_id"`
	RuleID         string     `json:"rule_id"`
	RuleName       string     `json:"rule_name"`
	Channel        ActionType `json:"channel"`
	Subject        string     `json:"subject"`
	Message        string     `json:"message"`
	TraceID        string     `json:"trace_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertSubject renders the email subject for a triggered rule.
func AlertSubject(ruleName, farmID string) string {
	return "Weather Alert: Rule " + ruleName + " Triggered for " + farmID
}

// Alert identifies the triggered rule an action belongs to.
type Alert struct {
	FarmID   string
	RuleID   string
	RuleName string
}
