package mailer

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

const layout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ subject | escape }}</title>
</head>
<body style="margin:0;padding:0;background:#f6f6f6;">
<div style="max-width:600px;margin:0 auto;padding:24px;background:#ffffff;font-family:Helvetica,Arial,sans-serif;line-height:1.6;color:#222;">
<h1 style="font-size:24px;margin:0 0 16px;">{{ subject | escape }}</h1>
{% if preview_text != "" %}<p style="font-size:16px;color:#555;margin:0 0 24px;">{{ preview_text | escape }}</p>
{% endif %}<div>{{ body_html }}</div>
{% if links.size > 0 %}<h2 style="font-size:18px;margin:32px 0 8px;">Links</h2>
<ul>
{% for link in links %}<li><a href="{{ link.href | escape }}">{{ link.title | escape }}</a></li>
{% endfor %}</ul>
{% endif %}</div>
</body>
</html>
`

// Renderer turns newsletter content into the HTML body of an email.
type Renderer struct {
	SiteURL string

	tpl *liquid.Template
}

// NewRenderer compiles the email layout. siteURL prefixes blog and project
// links; leave it empty for relative links.
func NewRenderer(siteURL string) (*Renderer, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(layout)
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	return &Renderer{SiteURL: strings.TrimRight(siteURL, "/"), tpl: tpl}, nil
}

// Render escapes the subject and preview text and inserts the body as is.
func (r *Renderer) Render(c model.Content) (string, error) {
	out, err := r.tpl.RenderString(liquid.Bindings{
		"subject":      c.Subject,
		"preview_text": strings.TrimSpace(c.PreviewText),
		"body_html":    c.BodyHTML,
		"links":        r.links(c.Attachments),
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return out, nil
}

func (r *Renderer) links(attachments model.Attachments) []map[string]any {
	links := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		href := r.LinkFor(a)
		if href == "" {
			continue
		}
		title := a.Title
		if title == "" {
			title = href
		}
		links = append(links, map[string]any{"href": href, "title": title})
	}
	return links
}

// LinkFor resolves where an attachment points. Attachments without a slug
// or URL resolve to "".
func (r *Renderer) LinkFor(a model.Attachment) string {
	switch a.Type {
	case model.AttachmentBlog:
		if a.Slug == "" {
			return ""
		}
		return r.SiteURL + "/blog/" + a.Slug
	case model.AttachmentProject:
		if a.Slug == "" {
			return ""
		}
		return r.SiteURL + "/projects/" + a.Slug
	case model.AttachmentLink:
		return a.URL
	}
	return ""
}
