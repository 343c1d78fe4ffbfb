package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/queryset"
)

type fakeTwitter struct {
	posts []model.Post
	err   error
}

func (f *fakeTwitter) SearchRecent(ctx context.Context, query string, maxResults int) ([]model.Post, error) {
	return f.posts, f.err
}

type fakeReddit struct {
	posts []model.Post
	err   error
}

func (f *fakeReddit) SearchSubreddit(ctx context.Context, subreddit, query string, limit int) ([]model.Post, error) {
	return f.posts, f.err
}

func testSet() *queryset.Set {
	return &queryset.Set{Queries: []queryset.Query{
		{Source: "twitter", Query: "golpe pix"},
		{Source: "reddit", Subreddit: "brasil", Query: "golpe pix"},
	}}
}

func TestCollectMergesSources(t *testing.T) {
	tw := &fakeTwitter{posts: []model.Post{{Text: "tw1", Source: "twitter", Username: "a"}}}
	rd := &fakeReddit{posts: []model.Post{{Text: "rd1", Source: "reddit", Username: "b"}}}

	posts, err := NewCollector(tw, rd).Collect(context.Background(), testSet(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)
}

func TestCollectDeduplicates(t *testing.T) {
	dup := model.Post{Text: "mesmo golpe", Source: "twitter", Username: "a"}
	tw := &fakeTwitter{posts: []model.Post{dup, dup}}

	set := &queryset.Set{Queries: []queryset.Query{{Source: "twitter", Query: "golpe"}}}
	posts, err := NewCollector(tw, nil).Collect(context.Background(), set, 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestCollectPartialFailure(t *testing.T) {
	tw := &fakeTwitter{err: fmt.Errorf("status 429")}
	rd := &fakeReddit{posts: []model.Post{{Text: "rd1", Source: "reddit", Username: "b"}}}

	posts, err := NewCollector(tw, rd).Collect(context.Background(), testSet(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "reddit", posts[0].Source)
}

func TestCollectAllQueriesFail(t *testing.T) {
	tw := &fakeTwitter{err: fmt.Errorf("status 500")}
	rd := &fakeReddit{err: fmt.Errorf("status 500")}

	_, err := NewCollector(tw, rd).Collect(context.Background(), testSet(), 50)
	require.Error(t, err)
}

func TestCollectNilClientSkipsSource(t *testing.T) {
	rd := &fakeReddit{posts: []model.Post{{Text: "rd1", Source: "reddit", Username: "b"}}}

	posts, err := NewCollector(nil, rd).Collect(context.Background(), testSet(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestLoadSavePosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	in := []model.Post{
		{Text: "golpe do pix", Username: "a", Name: "A", Location: "SP", Source: "twitter"},
		{Text: "outro relato", Username: "b", Source: "reddit"},
	}

	require.NoError(t, SavePosts(path, in))
	out, err := LoadPosts(path)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestLoadPostsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadPosts(path)
	require.Error(t, err)
}
