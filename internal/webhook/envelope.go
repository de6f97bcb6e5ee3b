package webhook

import (
	"bytes"
	"encoding/json"

	"github.com/instantchat/backend/internal/domain"
)

type envelope struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

type envelopeEntry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
	Changes   []envelopeChange  `json:"changes"`
}

type envelopeChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type messagingShape struct {
	Message *struct {
		IsEcho bool `json:"is_echo"`
	} `json:"message"`
	Reaction json.RawMessage `json:"reaction"`
	Postback json.RawMessage `json:"postback"`
	Referral json.RawMessage `json:"referral"`
	Read     json.RawMessage `json:"read"`
}

type bareShape struct {
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	AccountID string `json:"accountId"`
}

// ParseEnvelope splits a delivery into raw events. A platform envelope
// ({object, entry[]}) yields one event per messaging item and change;
// any other body is treated as a single bare event classified by hint or
// by its own type field. Echoes of outbound messages are dropped. An entry
// carrying neither messaging items nor changes is kept whole as one
// unknown event.
func ParseEnvelope(body []byte, hint domain.RawEventKind) []domain.RawEvent {
	trimmed := bytes.TrimSpace(body)

	var env envelope
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil && env.Entry != nil {
		var events []domain.RawEvent
		for _, raw := range env.Entry {
			events = append(events, entryEvents(raw)...)
		}
		return events
	}

	ev := domain.RawEvent{Kind: hint, Body: json.RawMessage(body)}
	var shape bareShape
	if json.Unmarshal(trimmed, &shape) == nil {
		if ev.Kind == domain.RawUnknown {
			if shape.Type != "" {
				ev.Kind = domain.ParseRawEventKind(shape.Type)
			} else if shape.EventType != "" {
				ev.Kind = domain.ParseRawEventKind(shape.EventType)
			}
		}
		ev.AccountID = shape.AccountID
	}
	return []domain.RawEvent{ev}
}

func entryEvents(raw json.RawMessage) []domain.RawEvent {
	var entry envelopeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return []domain.RawEvent{{Kind: domain.RawUnknown, Body: raw}}
	}
	if len(entry.Messaging) == 0 && len(entry.Changes) == 0 {
		return []domain.RawEvent{{Kind: domain.RawUnknown, AccountID: entry.ID, Body: raw}}
	}

	var events []domain.RawEvent
	for _, item := range entry.Messaging {
		kind, echo := classifyMessaging(item)
		if echo {
			continue
		}
		events = append(events, domain.RawEvent{Kind: kind, AccountID: entry.ID, Body: item})
	}
	for _, change := range entry.Changes {
		events = append(events, domain.RawEvent{
			Kind:      domain.ParseRawEventKind(change.Field),
			AccountID: entry.ID,
			Body:      change.Value,
		})
	}
	return events
}

func classifyMessaging(item json.RawMessage) (domain.RawEventKind, bool) {
	var p messagingShape
	if err := json.Unmarshal(item, &p); err != nil {
		return domain.RawUnknown, false
	}
	switch {
	case p.Message != nil:
		return domain.RawMessage, p.Message.IsEcho
	case len(p.Reaction) > 0:
		return domain.RawReaction, false
	case len(p.Postback) > 0:
		return domain.RawPostback, false
	case len(p.Referral) > 0:
		return domain.RawReferral, false
	case len(p.Read) > 0:
		return domain.RawSeen, false
	}
	return domain.RawUnknown, false
}
