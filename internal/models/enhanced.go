package models

import "time"

// Provenance tells whether a response was served from cache or a fresh origin fetch.
type Provenance string

const (
	ProvenanceCache  Provenance = "cache"
	ProvenanceOrigin Provenance = "origin"
)

// AnalysisResult is the advisory produced by the analysis tier.
// Enhanced is false when only the rule-based engine (or the neutral placeholder) produced the text.
type AnalysisResult struct {
	Advisory string        `json:"advisory"`
	Backend  string        `json:"backend"`
	Latency  time.Duration `json:"latencyNs"`
	Enhanced bool          `json:"enhanced"`
}

// AlertPriority orders alerts handed to the notification collaborator.
type AlertPriority string

const (
	AlertPriorityHigh   AlertPriority = "high"
	AlertPriorityNormal AlertPriority = "normal"
)

// Alert is the structured input for the notification collaborator.
type Alert struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority AlertPriority     `json:"priority"`
}

// EnhancedForecast is the composed payload stored in the cache.
// TTL and CachedAt are fixed when the entry is written; Provenance is set on read.
type EnhancedForecast struct {
	Location   LocationKey        `json:"location"`
	Forecast   NormalizedForecast `json:"forecast"`
	Analysis   *AnalysisResult    `json:"analysis,omitempty"`
	Alerts     []Alert            `json:"alerts,omitempty"`
	CachedAt   time.Time          `json:"cachedAt"`
	TTL        time.Duration      `json:"ttlNs"`
	Provenance Provenance         `json:"provenance"`
}

// ExpiresAt returns the instant after which the entry is no longer fresh.
func (e EnhancedForecast) ExpiresAt() time.Time {
	return e.CachedAt.Add(e.TTL)
}

// EntryStatus is a read-only view of one analysis registry entry.
type EntryStatus struct {
	ID        string     `json:"id"`
	Rank      int        `json:"rank"`
	State     string     `json:"state"`
	Current   bool       `json:"current"`
	ReadyAt   *time.Time `json:"readyAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}
