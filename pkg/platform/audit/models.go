package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// Publishers route on it (one Kafka topic per category).
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring and forensics.
	CategorySecurity EventCategory = "security"

	// CategoryCompliance covers events with commercial or regulatory significance
	// that need long retention, such as credential lifecycle and refunds.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine activity that is useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// EventType names a security-relevant occurrence.
type EventType string

const (
	// Access
	EventAccessGranted   EventType = "ACCESS_GRANTED"
	EventAccessDenied    EventType = "ACCESS_DENIED"
	EventFailOpenGranted EventType = "FAIL_OPEN_GRANTED"

	// Authentication
	EventAuthSuccess    EventType = "AUTH_SUCCESS"
	EventAuthFailure    EventType = "AUTH_FAILURE"
	EventLoginSuccess   EventType = "LOGIN_SUCCESS"
	EventLoginFailure   EventType = "LOGIN_FAILURE"
	EventLogout         EventType = "LOGOUT"
	EventSessionCreated EventType = "SESSION_CREATED"
	EventSessionExpired EventType = "SESSION_EXPIRED"

	// Credentials
	EventTokenIssued    EventType = "TOKEN_ISSUED"
	EventTokenRevoked   EventType = "TOKEN_REVOKED"
	EventTokenValidated EventType = "TOKEN_VALIDATED"
	EventTokenExpired   EventType = "TOKEN_EXPIRED"

	// Account
	EventPasswordChanged   EventType = "PASSWORD_CHANGED"
	EventRoleChanged       EventType = "ROLE_CHANGED"
	EventPermissionChanged EventType = "PERMISSION_CHANGED"

	// Commerce
	EventTicketPurchased  EventType = "TICKET_PURCHASED"
	EventTicketRefunded   EventType = "TICKET_REFUNDED"
	EventTicketCancelled  EventType = "TICKET_CANCELLED"
	EventTicketExpired    EventType = "TICKET_EXPIRED"
	EventPaymentInitiated EventType = "PAYMENT_INITIATED"
	EventPaymentSucceeded EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed    EventType = "PAYMENT_FAILED"

	// Abuse and faults
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventValidationFailed   EventType = "VALIDATION_FAILED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventErrorOccurred      EventType = "ERROR_OCCURRED"

	// Administration
	EventAdminAction  EventType = "ADMIN_ACTION"
	EventDataExported EventType = "DATA_EXPORTED"
)

// eventCategories maps each event type to its category.
var eventCategories = map[EventType]EventCategory{
	EventAccessGranted:   CategoryOperations,
	EventAccessDenied:    CategorySecurity,
	EventFailOpenGranted: CategorySecurity,

	EventAuthSuccess:    CategoryOperations,
	EventAuthFailure:    CategorySecurity,
	EventLoginSuccess:   CategoryOperations,
	EventLoginFailure:   CategorySecurity,
	EventLogout:         CategoryOperations,
	EventSessionCreated: CategoryOperations,
	EventSessionExpired: CategoryOperations,

	EventTokenIssued:    CategoryCompliance,
	EventTokenRevoked:   CategoryCompliance,
	EventTokenValidated: CategoryOperations,
	EventTokenExpired:   CategorySecurity,

	EventPasswordChanged:   CategorySecurity,
	EventRoleChanged:       CategoryCompliance,
	EventPermissionChanged: CategoryCompliance,

	EventTicketPurchased:  CategoryCompliance,
	EventTicketRefunded:   CategoryCompliance,
	EventTicketCancelled:  CategoryCompliance,
	EventTicketExpired:    CategoryOperations,
	EventPaymentInitiated: CategoryOperations,
	EventPaymentSucceeded: CategoryCompliance,
	EventPaymentFailed:    CategoryCompliance,

	EventRateLimitExceeded:  CategorySecurity,
	EventValidationFailed:   CategoryOperations,
	EventSuspiciousActivity: CategorySecurity,
	EventErrorOccurred:      CategorySecurity,

	EventAdminAction:  CategoryCompliance,
	EventDataExported: CategoryCompliance,
}

// Category returns the EventCategory for this event type.
// Unknown types default to CategorySecurity so they are never sampled away.
func (t EventType) Category() EventCategory {
	if cat, ok := eventCategories[t]; ok {
		return cat
	}
	return CategorySecurity
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	_, ok := eventCategories[t]
	return ok
}

// IsCommerce reports whether t may be emitted by the commerce collaborator.
func (t EventType) IsCommerce() bool {
	switch t {
	case EventTicketPurchased, EventTicketRefunded, EventTicketCancelled, EventTicketExpired,
		EventPaymentInitiated, EventPaymentSucceeded, EventPaymentFailed:
		return true
	}
	return false
}

// Event is an immutable record of a security-relevant occurrence.
//
// Callers fill the descriptive fields. MaskedEmail and MaskedIP are masked
// again by the sink regardless of what the caller passed. Stream, Sequence,
// PrevHash and Hash are assigned by the sink when the event is sealed into the
// chain. Each sink instance owns one stream; sequences are unique per stream.
type Event struct {
	Type         EventType      `json:"type"`
	PrincipalID  string         `json:"principal_id,omitempty"`
	MaskedEmail  string         `json:"masked_email,omitempty"`
	MaskedIP     string         `json:"masked_ip,omitempty"`
	Resource     string         `json:"resource,omitempty"`
	Action       string         `json:"action,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`

	Stream   string `json:"stream,omitempty"`
	Sequence uint64 `json:"sequence"`
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Category returns the category of the event's type.
func (e Event) Category() EventCategory { return e.Type.Category() }
