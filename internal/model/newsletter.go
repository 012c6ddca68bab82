// internal/model/newsletter.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NewsletterStatus string

const (
	NewsletterDraft     NewsletterStatus = "draft"
	NewsletterPublished NewsletterStatus = "published"
)

type AttachmentType string

const (
	AttachmentBlog    AttachmentType = "blog"
	AttachmentProject AttachmentType = "project"
	AttachmentLink    AttachmentType = "link"
)

// Attachment references a blog post, a project or an arbitrary link that is
// listed under the "Links" section of the email.
type Attachment struct {
	Type  AttachmentType `json:"type"`
	Title string         `json:"title"`
	Slug  string         `json:"slug,omitempty"`
	URL   string         `json:"url,omitempty"`
}

type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *Attachments) Scan(src any) error {
	return scanJSON(src, a)
}

type Newsletter struct {
	ID          string           `db:"id" json:"id"`
	Subject     string           `db:"subject" json:"subject"`
	PreviewText string           `db:"preview_text" json:"preview_text,omitempty"`
	BodyHTML    string           `db:"body_html" json:"body_html"`
	Attachments Attachments      `db:"attachments" json:"attachments"`
	Status      NewsletterStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// Content returns the parts of the newsletter that end up in the email.
func (n *Newsletter) Content() Content {
	return Content{
		Subject:     n.Subject,
		PreviewText: n.PreviewText,
		BodyHTML:    n.BodyHTML,
		Attachments: n.Attachments,
	}
}

// Content is the renderable part of a newsletter. Sends keep a copy taken at
// creation time so later edits to the newsletter do not leak into a retry.
type Content struct {
	Subject     string      `json:"subject"`
	PreviewText string      `json:"preview_text,omitempty"`
	BodyHTML    string      `json:"body_html"`
	Attachments Attachments `json:"attachments,omitempty"`
}

func (c *Content) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *Content) Scan(src any) error {
	return scanJSON(src, c)
}

func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for json column", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
