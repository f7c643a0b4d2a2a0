package store

import "time"

// WebhookDelivery is one queued outbound notification attempt.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Attempts       int
	Status         string // pending, delivered, failed
	CreatedAt      time.Time
}
