// Package model defines the core data types shared across the pipeline.
package model

// Post is a single social-media post as collected from a source.
// The pipeline borrows posts for the duration of one run and never
// mutates them.
type Post struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ScoredPost is a post annotated with the LLM's scam probability.
type ScoredPost struct {
	Post
	ScamProbability float64 `json:"scam_probability"`
}
