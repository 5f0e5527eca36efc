package notion

import (
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
)

// PlainText renders a property value as text. Unsupported property types
// render as "".
func PlainText(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(p.Title)
	case *notionapi.RichTextProperty:
		return joinRichText(p.RichText)
	case *notionapi.EmailProperty:
		return strings.TrimSpace(p.Email)
	case *notionapi.PhoneNumberProperty:
		return strings.TrimSpace(p.PhoneNumber)
	case *notionapi.URLProperty:
		return strings.TrimSpace(p.URL)
	case *notionapi.NumberProperty:
		return strconv.FormatFloat(p.Number, 'f', -1, 64)
	case *notionapi.SelectProperty:
		return p.Select.Name
	case *notionapi.StatusProperty:
		return p.Status.Name
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ",")
	default:
		return ""
	}
}

// Fields flattens a page's properties to text keyed by property name.
func Fields(page notionapi.Page) map[string]string {
	out := make(map[string]string, len(page.Properties))
	for name, prop := range page.Properties {
		if v := PlainText(prop); v != "" {
			out[name] = v
		}
	}
	return out
}

func joinRichText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}
