package httputil

import (
	"net/http"
	"time"
)

// Clients holds the process-scoped HTTP clients. Built once at startup and
// never mutated afterwards; every component that talks HTTP gets one of
// these injected rather than constructing its own.
type Clients struct {
	Media    *http.Client // image downloads, bounded but generous timeout
	Provider *http.Client // email + AI provider APIs
}

func NewClients() *Clients {
	return &Clients{
		Media: &http.Client{
			Timeout: 30 * time.Second,
		},
		Provider: &http.Client{
			Timeout: 90 * time.Second, // completions can be slow
		},
	}
}
