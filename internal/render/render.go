// Package render expands per-recipient placeholders in campaign content
// using the Liquid template language. Expansion happens at send time with
// live subscriber data, never at enqueue time, so a subscriber rename
// between enqueue and delivery is reflected in the sent mail.
package render

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Bindings holds the per-recipient values available to templates.
type Bindings struct {
	FirstName      string
	LastName       string
	Email          string
	UnsubscribeURL string
}

// Renderer renders subject and body templates with caching. Parsed
// templates are cached by source text, which pays off because every queue
// item of a campaign shares the same denormalized subject/body.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the engine filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// Default value filter: {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// URL encode: {{ email | urlencode }}
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	return &Renderer{engine: engine}
}

// legacy single-brace placeholders accepted for compatibility with content
// written for the old editor. They are rewritten to Liquid output tags
// before parsing.
var legacyTokens = strings.NewReplacer(
	"{first_name}", "{{ first_name }}",
	"{last_name}", "{{ last_name }}",
	"{email}", "{{ email }}",
	"{unsubscribe_url}", "{{ unsubscribe_url }}",
	"{unsubscribe_link}", "{{ unsubscribe_url }}",
)

// Render expands one template with the given bindings. Unknown variables
// render as empty strings. A template parse failure returns the original
// text with only the legacy tokens substituted, plus the error, so a
// malformed template degrades instead of blocking delivery.
func (r *Renderer) Render(tmpl string, b Bindings) (string, error) {
	if tmpl == "" {
		return "", nil
	}

	source := legacyTokens.Replace(tmpl)
	vars := map[string]interface{}{
		"first_name":      b.FirstName,
		"last_name":       b.LastName,
		"email":           b.Email,
		"unsubscribe_url": b.UnsubscribeURL,
	}

	t, err := r.template(source)
	if err != nil {
		return fallback(source, vars), err
	}
	out, err := t.RenderString(vars)
	if err != nil {
		return fallback(source, vars), err
	}
	return out, nil
}

func (r *Renderer) template(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	t, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	r.cache.Store(source, t)
	return t, nil
}

// fallback substitutes the known variables textually when Liquid cannot
// parse the template.
func fallback(source string, vars map[string]interface{}) string {
	out := source
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{ "+k+" }}", fmt.Sprintf("%v", v))
		out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return out
}

// UnsubscribeURL builds the public one-click unsubscribe link for a
// subscriber token. Returns "" when no base URL is configured.
func UnsubscribeURL(baseURL, token string) string {
	if baseURL == "" || token == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/unsubscribe/" + url.PathEscape(token)
}
