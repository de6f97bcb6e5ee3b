package validator

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/instantchat/backend/internal/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
	maxSearchLen = 200
)

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// ValidateEventTypeFilter accepts "", "all", a known event type or one of
// its aliases.
func ValidateEventTypeFilter(s string) bool {
	if s == "" || s == domain.FilterAll {
		return true
	}
	_, ok := domain.ParseEventType(s)
	return ok
}

// ValidateStatusFilter accepts "", "all" or a known status.
func ValidateStatusFilter(s string) bool {
	return s == "" || s == domain.FilterAll || domain.Status(s).Valid()
}

// ValidateUserID checks an opaque user id used as a token subject.
func ValidateUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// ParseNotificationFilter reads eventType, status, search, accountId,
// limit and offset query parameters.
func ParseNotificationFilter(q url.Values) (domain.NotificationFilter, ValidationErrors) {
	var errs ValidationErrors
	f := domain.NotificationFilter{
		EventType: strings.TrimSpace(q.Get("eventType")),
		Status:    strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Search:    SanitizeString(q.Get("search"), maxSearchLen),
		AccountID: strings.TrimSpace(q.Get("accountId")),
		Limit:     DefaultLimit,
	}

	if !ValidateEventTypeFilter(f.EventType) {
		errs.Add("eventType", "unknown event type")
	} else if f.EventType != "" && f.EventType != domain.FilterAll {
		f.EventType = domain.CanonicalTopic(f.EventType)
	}
	if !ValidateStatusFilter(f.Status) {
		errs.Add("status", "must be one of all, new, read, processed, failed")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n <= 0:
			errs.Add("limit", "must be a positive integer")
		case n > MaxLimit:
			f.Limit = MaxLimit
		default:
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs.Add("offset", "must be a non-negative integer")
		} else {
			f.Offset = n
		}
	}

	return f, errs
}

// SanitizeString trims whitespace and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
