package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizerWithClock(func() time.Time { return fixedNow })
}

func TestNormalize_MessageExample(t *testing.T) {
	body := `{"sender":{"id":"u1"},"message":{"text":"hi"},"timestamp":"2024-01-01T00:00:00Z"}`
	n := newTestNormalizer().Normalize(RawEvent{Kind: RawMessage, Body: json.RawMessage(body)})

	if n.SenderID != "u1" {
		t.Errorf("SenderID = %q, want u1", n.SenderID)
	}
	if n.Content.Text != "hi" {
		t.Errorf("Content.Text = %q, want hi", n.Content.Text)
	}
	if n.EventType != EventMessage {
		t.Errorf("EventType = %q, want message", n.EventType)
	}
	if n.Timestamp != "2024-01-01T00:00:00Z" {
		t.Errorf("Timestamp = %q", n.Timestamp)
	}
	if n.IsRead {
		t.Error("IsRead = true, want false")
	}
	if n.Status != StatusNew {
		t.Errorf("Status = %q, want new", n.Status)
	}
	if n.UserInfo.Username != "u1" {
		t.Errorf("Username = %q, want sender id fallback", n.UserInfo.Username)
	}
}

func TestNormalize_ContentFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		kind RawEventKind
		body string
		want string
	}{
		{"message text wins", RawMessage, `{"message":{"text":"m"},"comment":{"text":"c"},"content":"raw"}`, "m"},
		{"comment text", RawComment, `{"comment":{"text":"c"},"content":"raw"}`, "c"},
		{"top level comment value", RawComment, `{"id":"17","text":"nice post","from":{"id":"u2"}}`, "nice post"},
		{"raw string content", RawMessage, `{"content":"raw"}`, "raw"},
		{"raw object content", RawMessage, `{"content":{"text":"inner"}}`, "inner"},
		{"empty message falls through", RawMessage, `{"message":{"text":""},"content":"raw"}`, "raw"},
		{"literal", RawReaction, `{"sender":{"id":"u1"}}`, "No content available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer().Normalize(RawEvent{Kind: tt.kind, Body: json.RawMessage(tt.body)})
			if n.Content.Text != tt.want {
				t.Errorf("Content.Text = %q, want %q", n.Content.Text, tt.want)
			}
		})
	}
}

func TestNormalize_SenderFallbackChain(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"sender":{"id":"a"},"from":{"id":"b"},"senderId":"c"}`, "a"},
		{`{"from":{"id":"b"},"senderId":"c"}`, "b"},
		{`{"senderId":"c"}`, "c"},
		{`{"senderId":42}`, "42"},
		{`{}`, ""},
	}
	for _, tt := range tests {
		n := newTestNormalizer().Normalize(RawEvent{Kind: RawMessage, Body: json.RawMessage(tt.body)})
		if n.SenderID != tt.want {
			t.Errorf("Normalize(%s).SenderID = %q, want %q", tt.body, n.SenderID, tt.want)
		}
	}
}

func TestNormalize_TimestampFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string timestamp kept", `{"timestamp":"2024-01-01T00:00:00Z","created_time":"2020-01-01T00:00:00Z"}`, "2024-01-01T00:00:00Z"},
		{"millisecond timestamp", `{"timestamp":1704067200000}`, "2024-01-01T00:00:00Z"},
		{"created_time seconds", `{"created_time":1704067200}`, "2024-01-01T00:00:00Z"},
		{"created_time string", `{"created_time":"2023-05-05T10:00:00+0000"}`, "2023-05-05T10:00:00+0000"},
		{"receipt time", `{}`, fixedNow.Format(time.RFC3339Nano)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer().Normalize(RawEvent{Kind: RawComment, Body: json.RawMessage(tt.body)})
			if n.Timestamp != tt.want {
				t.Errorf("Timestamp = %q, want %q", n.Timestamp, tt.want)
			}
		})
	}
}

func TestNormalize_UnknownKindIsRetained(t *testing.T) {
	body := `{"weird":{"nested":true}}`
	n := newTestNormalizer().Normalize(RawEvent{Kind: RawUnknown, Body: json.RawMessage(body)})

	if n.EventType != EventWebhookError {
		t.Fatalf("EventType = %q, want webhook_error", n.EventType)
	}
	if n.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", n.Status)
	}
	payload, ok := n.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload type = %T, want map", n.Payload)
	}
	if _, ok := payload["weird"]; !ok {
		t.Errorf("Payload lost raw fields: %v", payload)
	}
}

func TestNormalize_MalformedBody(t *testing.T) {
	n := newTestNormalizer().Normalize(RawEvent{Kind: RawMessage, Body: json.RawMessage(`not json`)})
	if n.EventType != EventWebhookError {
		t.Errorf("EventType = %q, want webhook_error", n.EventType)
	}
	if n.Payload != "not json" {
		t.Errorf("Payload = %v, want raw string", n.Payload)
	}
	if n.ID == "" {
		t.Error("ID is empty")
	}
}

func TestNormalize_IDs(t *testing.T) {
	norm := newTestNormalizer()

	withMid := norm.Normalize(RawEvent{Kind: RawMessage, Body: json.RawMessage(`{"message":{"mid":"m_1","text":"x"}}`)})
	if withMid.ID != "m_1" {
		t.Errorf("ID = %q, want upstream mid", withMid.ID)
	}

	body := json.RawMessage(`{"sender":{"id":"u1"},"message":{"text":"hi"}}`)
	spaced := json.RawMessage(`{ "sender": {"id":"u1"}, "message": {"text":"hi"} }`)
	a := norm.Normalize(RawEvent{Kind: RawMessage, AccountID: "acc", Body: body})
	b := norm.Normalize(RawEvent{Kind: RawMessage, AccountID: "acc", Body: spaced})
	if a.ID != b.ID {
		t.Errorf("deterministic ids differ: %q vs %q", a.ID, b.ID)
	}
	if !strings.HasPrefix(a.ID, "evt_") {
		t.Errorf("ID = %q, want evt_ prefix", a.ID)
	}

	other := norm.Normalize(RawEvent{Kind: RawMessage, AccountID: "other", Body: body})
	if other.ID == a.ID {
		t.Error("ids for different accounts collide")
	}
}

func TestNormalize_UnknownEntryUsesDeterministicID(t *testing.T) {
	norm := newTestNormalizer()
	first := norm.Normalize(RawEvent{Kind: RawUnknown, AccountID: "acc1", Body: json.RawMessage(`{"id":"acc1","time":1,"standby":[{"message":{"text":"a"}}]}`)})
	second := norm.Normalize(RawEvent{Kind: RawUnknown, AccountID: "acc1", Body: json.RawMessage(`{"id":"acc1","time":2,"standby":[{"message":{"text":"b"}}]}`)})

	if first.ID == "acc1" || !strings.HasPrefix(first.ID, "evt_") {
		t.Errorf("ID = %q, want deterministic id", first.ID)
	}
	if first.ID == second.ID {
		t.Error("distinct entries for one account share an id")
	}
	if first.AccountID != "acc1" {
		t.Errorf("AccountID = %q, want acc1", first.AccountID)
	}
}

func TestParseRawEventKind(t *testing.T) {
	tests := map[string]RawEventKind{
		"messages":       RawMessage,
		"comments":       RawComment,
		"mentions":       RawMention,
		"live_comments":  RawLiveComment,
		"reaction":       RawReaction,
		"read":           RawSeen,
		"story_insights": RawUnknown,
		"flow_execution": RawUnknown,
	}
	for in, want := range tests {
		if got := ParseRawEventKind(in); got != want {
			t.Errorf("ParseRawEventKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNotificationFilter_Matches(t *testing.T) {
	n := &Notification{
		EventType: EventComment,
		SenderID:  "u9",
		UserInfo:  UserInfo{Username: "Alice"},
		Content:   Content{Text: "Great photo"},
		Status:    StatusNew,
	}
	tests := []struct {
		name   string
		filter NotificationFilter
		want   bool
	}{
		{"empty", NotificationFilter{}, true},
		{"all sentinels", NotificationFilter{EventType: FilterAll, Status: FilterAll}, true},
		{"type alias", NotificationFilter{EventType: "comments"}, true},
		{"type mismatch", NotificationFilter{EventType: "message"}, false},
		{"status mismatch", NotificationFilter{Status: "read"}, false},
		{"search username", NotificationFilter{Search: "alice"}, true},
		{"search content", NotificationFilter{Search: "PHOTO"}, true},
		{"search miss", NotificationFilter{Search: "bob"}, false},
		{"and semantics", NotificationFilter{EventType: "comment", Search: "bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(n); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
