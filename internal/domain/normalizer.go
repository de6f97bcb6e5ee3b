package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const noContentText = "No content available"

// RawEventKind classifies an upstream event before normalization.
type RawEventKind int

const (
	RawUnknown RawEventKind = iota
	RawMessage
	RawComment
	RawMention
	RawLiveComment
	RawReaction
	RawPostback
	RawReferral
	RawSeen
)

var rawKindNames = map[RawEventKind]string{
	RawUnknown:     "unknown",
	RawMessage:     "message",
	RawComment:     "comment",
	RawMention:     "mention",
	RawLiveComment: "live_comment",
	RawReaction:    "reaction",
	RawPostback:    "postback",
	RawReferral:    "referral",
	RawSeen:        "seen",
}

func (k RawEventKind) String() string {
	if name, ok := rawKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EventType maps the raw kind onto its normalized event type. Anything
// unclassified becomes webhook_error.
func (k RawEventKind) EventType() EventType {
	switch k {
	case RawMessage:
		return EventMessage
	case RawComment:
		return EventComment
	case RawMention:
		return EventMention
	case RawLiveComment:
		return EventLiveComment
	case RawReaction:
		return EventReaction
	case RawPostback:
		return EventPostback
	case RawReferral:
		return EventReferral
	case RawSeen:
		return EventSeen
	default:
		return EventWebhookError
	}
}

// ParseRawEventKind resolves a webhook field name or event type name.
func ParseRawEventKind(s string) RawEventKind {
	t, ok := ParseEventType(s)
	if !ok {
		return RawUnknown
	}
	for k := range rawKindNames {
		if k != RawUnknown && k.EventType() == t {
			return k
		}
	}
	return RawUnknown
}

// RawEvent is one upstream event as extracted from a webhook envelope.
type RawEvent struct {
	Kind      RawEventKind
	AccountID string
	Body      json.RawMessage
}

type rawActor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type rawText struct {
	ID   string `json:"id"`
	MID  string `json:"mid"`
	Text string `json:"text"`
}

type rawPayload struct {
	ID        string          `json:"id"`
	Sender    *rawActor       `json:"sender"`
	From      *rawActor       `json:"from"`
	Recipient *rawActor       `json:"recipient"`
	SenderID  json.RawMessage `json:"senderId"`
	Username  string          `json:"username"`
	Message   *rawText        `json:"message"`
	Comment   *rawText        `json:"comment"`
	Text      string          `json:"text"`
	Content   json.RawMessage `json:"content"`
	Postback  *struct {
		MID string `json:"mid"`
	} `json:"postback"`
	CommentID   string          `json:"comment_id"`
	Timestamp   json.RawMessage `json:"timestamp"`
	CreatedTime json.RawMessage `json:"created_time"`
}

// Normalizer maps raw upstream events onto Notifications. It is a pure
// mapping apart from reading the clock for missing timestamps.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock is used where receipt time must be fixed.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize always returns a well-formed notification. Bodies that cannot
// be classified or decoded are tagged webhook_error with the raw payload
// retained.
func (n *Normalizer) Normalize(ev RawEvent) *Notification {
	received := n.now().UTC()
	eventType := ev.Kind.EventType()

	var p rawPayload
	decoded := json.Unmarshal(ev.Body, &p) == nil
	if !decoded {
		eventType = EventWebhookError
	}

	// Comment-shaped change values carry the comment at the top level.
	if p.Comment == nil && p.Text != "" && isCommentShaped(ev.Kind) {
		p.Comment = &rawText{ID: p.ID, Text: p.Text}
	}

	senderID := firstNonEmpty(actorID(p.Sender), actorID(p.From), scalarString(p.SenderID))
	username := firstNonEmpty(actorName(p.Sender), actorName(p.From), p.Username, senderID)

	status := StatusNew
	if eventType == EventWebhookError {
		status = StatusFailed
	}

	accountID := ev.AccountID
	if accountID == "" {
		accountID = actorID(p.Recipient)
	}

	// Unclassified bodies may be whole envelope entries whose id names the
	// account, so only classified events keep their upstream id.
	var id string
	if ev.Kind != RawUnknown {
		id = upstreamID(&p)
	}
	if id == "" {
		id = DeterministicID(ev.Kind, accountID, ev.Body)
	}

	return &Notification{
		ID:         id,
		EventType:  eventType,
		SenderID:   senderID,
		UserInfo:   UserInfo{Username: username},
		Content:    Content{Text: contentText(&p)},
		Timestamp:  n.timestamp(&p, received),
		AccountID:  accountID,
		Status:     status,
		IsRead:     false,
		Payload:    decodePayload(ev.Body),
		ReceivedAt: received,
	}
}

// DeterministicID derives a stable id from the event identity so that
// replays of the same payload collapse onto one record.
func DeterministicID(kind RawEventKind, accountID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(kind.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(accountID))
	h.Write([]byte{'|'})
	h.Write(compactJSON(body))
	return "evt_" + hex.EncodeToString(h.Sum(nil))[:24]
}

func isCommentShaped(k RawEventKind) bool {
	return k == RawComment || k == RawLiveComment || k == RawMention
}

// upstreamID picks the platform's own id for the event. Reactions and read
// receipts only reference the message they target, so they fall through to
// the deterministic id.
func upstreamID(p *rawPayload) string {
	switch {
	case p.Message != nil && p.Message.MID != "":
		return p.Message.MID
	case p.Postback != nil && p.Postback.MID != "":
		return p.Postback.MID
	case p.Comment != nil && p.Comment.ID != "":
		return p.Comment.ID
	case p.CommentID != "":
		return p.CommentID
	}
	return p.ID
}

func contentText(p *rawPayload) string {
	if p.Message != nil && p.Message.Text != "" {
		return p.Message.Text
	}
	if p.Comment != nil && p.Comment.Text != "" {
		return p.Comment.Text
	}
	if text := rawContent(p.Content); text != "" {
		return text
	}
	return noContentText
}

// rawContent accepts content as a string, an object with a text field, or
// any other JSON value rendered compactly.
func rawContent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Text != "" {
		return obj.Text
	}
	return string(compactJSON(raw))
}

func (n *Normalizer) timestamp(p *rawPayload, received time.Time) string {
	if ts, ok := parseTimestamp(p.Timestamp); ok {
		return ts
	}
	if ts, ok := parseTimestamp(p.CreatedTime); ok {
		return ts
	}
	return received.Format(time.RFC3339Nano)
}

// parseTimestamp keeps string timestamps as sent and renders numeric ones
// (unix seconds or milliseconds) as RFC 3339.
func parseTimestamp(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixToRFC3339(v), true
		}
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
		return unixToRFC3339(int64(f)), true
	}
	return "", false
}

func unixToRFC3339(v int64) string {
	var t time.Time
	if v > 1e12 {
		t = time.UnixMilli(v)
	} else {
		t = time.Unix(v, 0)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodePayload(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

func compactJSON(body []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return body
	}
	return buf.Bytes()
}

func actorID(a *rawActor) string {
	if a == nil {
		return ""
	}
	return a.ID
}

func actorName(a *rawActor) string {
	if a == nil {
		return ""
	}
	return a.Username
}

// scalarString accepts ids sent either as JSON strings or numbers.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
