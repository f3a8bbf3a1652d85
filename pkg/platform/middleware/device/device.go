// Package device summarizes the client's User-Agent for audit records.
// Only the coarse browser, OS and device class are kept; the raw header is
// never stored.
package device

import (
	"context"
	"net/http"

	"github.com/mssola/useragent"
)

type contextKeySummary struct{}

// Summary is the coarse description of a client.
type Summary struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

// Parse summarizes a User-Agent header. An empty header gives a zero Summary.
func Parse(userAgent string) Summary {
	if userAgent == "" {
		return Summary{}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	return Summary{
		Browser: browser,
		OS:      ua.OSInfo().Name,
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}

// Details renders the summary as audit event details.
func (s Summary) Details() map[string]any {
	return map[string]any{
		"client_browser": s.Browser,
		"client_os":      s.OS,
		"client_mobile":  s.Mobile,
		"client_bot":     s.Bot,
	}
}

// Middleware parses the User-Agent once per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSummary(r.Context(), Parse(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func FromContext(ctx context.Context) Summary {
	s, _ := ctx.Value(contextKeySummary{}).(Summary)
	return s
}

func WithSummary(ctx context.Context, s Summary) context.Context {
	return context.WithValue(ctx, contextKeySummary{}, s)
}
