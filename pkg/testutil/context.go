package testutil

import (
	"net/http"

	"stagepass/pkg/requestcontext"
)

// WithClientMetadata sets the client IP and User-Agent the metadata
// middleware would have extracted.
func WithClientMetadata(req *http.Request, clientIP, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
}
