// Package validator checks ingest events before they reach the index. It
// enforces identity and length constraints and returns per-field error
// details.
package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion"
)

const (
	maxURLLength   = 2048
	maxTitleLength = 1024
	maxBodyLength  = 1048576
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateIngestEvent requires a positive ID, an absolute URL and some
// searchable text in the title or body.
func ValidateIngestEvent(ev *ingestion.IngestEvent) error {
	errs := make(map[string]string)

	if ev.ID == 0 {
		errs["id"] = "id must be a positive integer"
	}

	rawURL := strings.TrimSpace(ev.URL)
	switch {
	case rawURL == "":
		errs["url"] = "url is required"
	case len(rawURL) > maxURLLength:
		errs["url"] = fmt.Sprintf("url must be at most %d characters", maxURLLength)
	default:
		if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs["url"] = "url must be absolute"
		}
	}

	if len(ev.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(ev.Body) > maxBodyLength {
		errs["body"] = fmt.Sprintf("body must be at most %d characters", maxBodyLength)
	}
	if strings.TrimSpace(ev.Title) == "" && strings.TrimSpace(ev.Body) == "" {
		errs["body"] = "title or body is required"
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
