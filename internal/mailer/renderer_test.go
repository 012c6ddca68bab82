package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

func TestRenderEscapesSubjectAndLede(t *testing.T) {
	r, err := NewRenderer("https://example.com/")
	require.NoError(t, err)

	out, err := r.Render(model.Content{
		Subject:     "Tips & <tricks>",
		PreviewText: "A \"short\" lede",
		BodyHTML:    "<p>Body <strong>verbatim</strong></p>",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Tips &amp; &lt;tricks&gt;")
	assert.NotContains(t, out, "<tricks>")
	assert.Contains(t, out, "A &#34;short&#34; lede")
	assert.Contains(t, out, "<p>Body <strong>verbatim</strong></p>")
	assert.NotContains(t, out, "<h2")
}

func TestRenderOmitsEmptyLede(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	out, err := r.Render(model.Content{Subject: "S", BodyHTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "color:#555")
}

func TestRenderLinks(t *testing.T) {
	r, err := NewRenderer("https://example.com")
	require.NoError(t, err)

	out, err := r.Render(model.Content{
		Subject:  "S",
		BodyHTML: "<p>x</p>",
		Attachments: model.Attachments{
			{Type: model.AttachmentBlog, Title: "A post", Slug: "a-post"},
			{Type: model.AttachmentProject, Title: "Tool", Slug: "tool"},
			{Type: model.AttachmentLink, Title: "Elsewhere", URL: "https://other.org/x?a=1&b=2"},
			{Type: model.AttachmentBlog, Title: "No slug"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Links</h2>")
	assert.Contains(t, out, `href="https://example.com/blog/a-post"`)
	assert.Contains(t, out, `href="https://example.com/projects/tool"`)
	assert.Contains(t, out, `href="https://other.org/x?a=1&amp;b=2"`)
	assert.NotContains(t, out, "No slug")
}

func TestLinkForRelativeWithoutSiteURL(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	assert.Equal(t, "/blog/hello", r.LinkFor(model.Attachment{Type: model.AttachmentBlog, Slug: "hello"}))
	assert.Equal(t, "/projects/p", r.LinkFor(model.Attachment{Type: model.AttachmentProject, Slug: "p"}))
	assert.Equal(t, "https://x.org", r.LinkFor(model.Attachment{Type: model.AttachmentLink, URL: "https://x.org"}))
	assert.Empty(t, r.LinkFor(model.Attachment{Type: "video", URL: "https://x.org"}))
}
