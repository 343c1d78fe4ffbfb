// Package ingest gathers raw posts, either from the social APIs or from a
// previously saved file.
package ingest

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/vigia-labs/scamwatch/internal/model"
)

// LoadPosts reads a JSON array of posts from path.
func LoadPosts(path string) ([]model.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	var posts []model.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	return posts, nil
}

// SavePosts writes posts as a JSON array to path.
func SavePosts(path string, posts []model.Post) error {
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return eris.Wrap(err, "ingest: marshal posts")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "ingest: write %s", path)
	}
	return nil
}
