package forms

import "time"

const (
	FormContact   = "contact"
	FormSubscribe = "subscribe"
)

// Submission is an accepted form submission as delivered to sinks.
type Submission struct {
	ID         string    `json:"id"`
	Form       string    `json:"form"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Service    string    `json:"service,omitempty"`
	Message    string    `json:"message,omitempty"`
	ClientIP   string    `json:"client_ip"`
	RequestID  string    `json:"request_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
