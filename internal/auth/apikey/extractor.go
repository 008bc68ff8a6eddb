package apikey

import (
	"net/http"
	"strings"

	"github.com/dogcatcher/authgw/internal/config"
)

// Extractor pulls the API key out of a request. The header is consulted
// first; the query parameter is a fallback for clients that cannot set
// headers.
type Extractor struct {
	header     string
	queryParam string
}

// NewExtractor creates an extractor from the configuration.
func NewExtractor(cfg *config.APIKeyAuthConfig) *Extractor {
	return &Extractor{
		header:     cfg.GetEffectiveHeader(),
		queryParam: cfg.GetEffectiveQueryParam(),
	}
}

// Extract returns the API key carried by the request, or "" when the
// request carries none.
func (e *Extractor) Extract(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(e.header)); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get(e.queryParam))
}

// Header returns the header the extractor reads.
func (e *Extractor) Header() string {
	return e.header
}

// QueryParam returns the query parameter the extractor reads.
func (e *Extractor) QueryParam() string {
	return e.queryParam
}
