package provider

import (
	"encoding/json"
	"time"
)

// RunStatus is the remote lifecycle state of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
// requires_action is not terminal remotely, but this design does not loop
// on it; the orchestrator surfaces it as an error.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	default:
		return false
	}
}

// Run is one asynchronous invocation bound to a conversation.
type Run struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Status         RunStatus `json:"status"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SegmentType tags a content segment variant.
type SegmentType string

const (
	SegmentText    SegmentType = "text"
	SegmentFileRef SegmentType = "file_ref"
	SegmentUnknown SegmentType = "unknown"
)

// Segment is one piece of message content. Exactly the fields for its Type
// are populated; anything the service returns that this client does not
// model decodes as SegmentUnknown rather than failing.
type Segment struct {
	Type SegmentType

	// Text is set for SegmentText.
	Text string

	// FileID and Filename are set for SegmentFileRef.
	FileID   string
	Filename string

	// Raw preserves the original JSON for SegmentUnknown.
	Raw json.RawMessage
}

// segmentWire is the JSON shape on the wire.
type segmentWire struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Segment) MarshalJSON() ([]byte, error) {
	if s.Type == SegmentUnknown && len(s.Raw) > 0 {
		return s.Raw, nil
	}
	return json.Marshal(segmentWire{
		Type:     string(s.Type),
		Text:     s.Text,
		FileID:   s.FileID,
		Filename: s.Filename,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Unrecognized segment types are
// kept as SegmentUnknown with the raw payload preserved.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var w segmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch SegmentType(w.Type) {
	case SegmentText:
		s.Type = SegmentText
		s.Text = w.Text
	case SegmentFileRef:
		s.Type = SegmentFileRef
		s.FileID = w.FileID
		s.Filename = w.Filename
	default:
		s.Type = SegmentUnknown
		s.Raw = append(s.Raw[:0], data...)
	}
	return nil
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// Message is one conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Segments  []Segment `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// File is the provider-side record of an uploaded file.
type File struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RunOptions carries optional parameters for starting a run.
type RunOptions struct {
	// Instructions is additional-instructions text appended for this run
	// only (search augmentation, structured-output directives).
	Instructions string `json:"instructions,omitempty"`

	// ResponseFormat selects a structured-output mode, e.g. "json_object".
	// Empty means provider default (plain text).
	ResponseFormat string `json:"response_format,omitempty"`
}

type conversationResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role     string    `json:"role"`
	Segments []Segment `json:"content"`
}

type listMessagesResponse struct {
	Data    []Message `json:"data"`
	HasMore bool      `json:"has_more"`
	LastID  string    `json:"last_id,omitempty"`
}

// apiError is the error body the service returns on non-2xx responses.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
