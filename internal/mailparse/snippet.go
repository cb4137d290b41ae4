package mailparse

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// SnippetLength is the maximum snippet length in runes.
const SnippetLength = 255

var textPolicy = bluemonday.StrictPolicy()

// HTMLToText strips every tag and decodes entities.
func HTMLToText(s string) string {
	stripped := textPolicy.Sanitize(spaceBlockTags(s))
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// spaceBlockTags keeps words in adjacent block elements apart once the
// tags are removed.
func spaceBlockTags(s string) string {
	r := strings.NewReplacer(
		"</p>", "</p> ", "</div>", "</div> ", "<br>", "<br> ", "<br/>", "<br/> ",
		"<br />", "<br /> ", "</li>", "</li> ", "</h1>", "</h1> ", "</h2>", "</h2> ",
		"</td>", "</td> ", "</tr>", "</tr> ",
	)
	return r.Replace(s)
}

// Snippet builds a short single-line preview from the text body, or from
// the HTML body when there is no text.
func Snippet(bodyText, bodyHTML string) string {
	text := bodyText
	if strings.TrimSpace(text) == "" && bodyHTML != "" {
		text = HTMLToText(bodyHTML)
	}

	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= SnippetLength {
		return text
	}

	runes := []rune(text)
	return string(runes[:SnippetLength-3]) + "..."
}
