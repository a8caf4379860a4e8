// Package moderation submits forum posts to an external content moderation
// service, enforces its verdicts and applies decisions that come back through
// the vendor's webhook.
package moderation

import (
	"bytes"
	"encoding/json"

	"modgate/models"
)

// ContentItem is the view of a post that the moderation pipeline works on.
// ID is zero while the post has not been persisted yet.
type ContentItem struct {
	ID               int64
	TopicID          int64
	AuthorID         int64
	CategoryID       int64
	Raw              string
	IsFirstPost      bool
	TopicTitle       string
	TopicMissing     bool
	TopicTrashed     bool
	IsPrivateMessage bool
	AuthorGroupIDs   []int64
	URL              string
	// ImageURLs lists attachments uploaded with the post. They are analysed
	// ahead of images referenced in the text.
	ImageURLs []string

	// Errors holds validation errors attached to the content. A blocked
	// post carries the configured block message here.
	Errors []string
}

// NewContentItem builds a ContentItem from a stored post and its joined
// thread and author columns.
func NewContentItem(p *models.Post) *ContentItem {
	if p == nil {
		return nil
	}
	item := &ContentItem{
		ID:               p.ID,
		TopicID:          p.ThreadID,
		AuthorID:         p.UserID,
		CategoryID:       p.CategoryID,
		Raw:              p.Raw,
		IsFirstPost:      p.IsOp,
		TopicTitle:       p.TopicTitle,
		TopicMissing:     p.ThreadID == 0,
		TopicTrashed:     p.TopicTrashed,
		IsPrivateMessage: p.IsPrivateMessage(),
		AuthorGroupIDs:   p.AuthorGroupIDs,
	}
	if p.ImagePath != "" {
		item.ImageURLs = []string{p.ImagePath}
	}
	return item
}

// AddError attaches a validation error to the content.
func (c *ContentItem) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// Invalid reports whether validation errors are attached.
func (c *ContentItem) Invalid() bool {
	return len(c.Errors) > 0
}

// FieldKind is the type of a single analysed field.
type FieldKind string

const (
	FieldText  FieldKind = "text"
	FieldImage FieldKind = "image"
)

// Field is one named entry of the object submitted for analysis.
type Field struct {
	Name  string
	Kind  FieldKind
	Value string
}

// AnalysisRequest is the vendor-agnostic payload for one analysis call.
// Fields are kept in submission order; the vendor shows them to human
// reviewers in that order.
type AnalysisRequest struct {
	Fields       []Field
	AuthorID     string
	ContextID    string
	ContentID    string
	MetadataLink string
	DoNotStore   bool
}

// Field returns the named field, if present.
func (r AnalysisRequest) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames lists the field names in order.
func (r AnalysisRequest) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}

type wireMetadata struct {
	Link string `json:"link"`
}

type wireValue struct {
	Type string     `json:"type"`
	Data orderedMap `json:"data"`
}

type wireRequest struct {
	Value      wireValue    `json:"value"`
	AuthorID   string       `json:"authorId,omitempty"`
	ContextID  string       `json:"contextId,omitempty"`
	ContentID  string       `json:"contentId,omitempty"`
	Metadata   wireMetadata `json:"metadata"`
	DoNotStore bool         `json:"doNotStore"`
}

// orderedMap serialises fields as a JSON object while keeping their order.
type orderedMap []Field

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(struct {
			Type  FieldKind `json:"type"`
			Value string    `json:"value"`
		}{f.Kind, f.Value})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON encodes the request in the vendor's object-analysis format.
// Empty author, context and content ids are left out entirely.
func (r AnalysisRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{
		Value:      wireValue{Type: "object", Data: orderedMap(r.Fields)},
		AuthorID:   r.AuthorID,
		ContextID:  r.ContextID,
		ContentID:  r.ContentID,
		Metadata:   wireMetadata{Link: r.MetadataLink},
		DoNotStore: r.DoNotStore,
	})
}

// Outcome is the interpreted verdict of an analysis.
type Outcome struct {
	Approved bool
}

var approved = Outcome{Approved: true}
