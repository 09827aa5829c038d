package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/readcopilot/internal/news"
)

// StoredArticle is an article page as kept by FileStore.
type StoredArticle struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Link      string       `json:"link"`
	Date      string       `json:"date,omitempty"`
	Source    string       `json:"source"`
	Tags      []string     `json:"tags,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	Blocks    []news.Block `json:"blocks"`
	CreatedAt time.Time    `json:"created_at"`
}

type fileState struct {
	Feeds    []news.FeedSource `json:"feeds"`
	Articles []StoredArticle   `json:"articles"`
}

// FileStore keeps feeds and articles in a single JSON file. Every write is
// flushed to disk before returning.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	state    fileState
	links    map[string]int // link -> index into state.Articles
}

func NewFileStore(filePath string) *FileStore {
	return &FileStore{filePath: filePath, links: make(map[string]int)}
}

// Load reads the file. A missing or empty file is an empty store.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}
	fs.state = st
	fs.links = make(map[string]int, len(st.Articles))
	for i, a := range st.Articles {
		fs.links[a.Link] = i
	}
	return nil
}

// SeedFeeds adds feeds whose IDs are not yet known. Existing feeds keep
// their recorded status.
func (fs *FileStore) SeedFeeds(feeds []news.FeedSource) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	known := make(map[string]bool, len(fs.state.Feeds))
	for _, f := range fs.state.Feeds {
		known[f.ID] = true
	}
	added := false
	for _, f := range feeds {
		if known[f.ID] {
			continue
		}
		fs.state.Feeds = append(fs.state.Feeds, f)
		known[f.ID] = true
		added = true
	}
	if !added {
		return nil
	}
	return fs.saveLocked()
}

func (fs *FileStore) QueryEnabledFeeds(_ context.Context) ([]news.FeedSource, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []news.FeedSource
	for _, f := range fs.state.Feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out, nil
}

// AllFeeds returns every feed, enabled or not.
func (fs *FileStore) AllFeeds(_ context.Context) ([]news.FeedSource, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return append([]news.FeedSource(nil), fs.state.Feeds...), nil
}

func (fs *FileStore) ExistingLinks(_ context.Context, links []string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []string
	for _, l := range links {
		if _, ok := fs.links[l]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (fs *FileStore) CreateArticlePage(_ context.Context, a news.Article, blocks []news.Block) (string, error) {
	if len(blocks) > MaxBlocksPerRequest {
		return "", fmt.Errorf("%d blocks exceeds the per-request limit of %d", len(blocks), MaxBlocksPerRequest)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.links[a.Link]; ok {
		return "", fmt.Errorf("article %s already stored", a.Link)
	}
	id := uuid.NewString()
	fs.state.Articles = append(fs.state.Articles, StoredArticle{
		ID:        id,
		Title:     a.Title,
		Link:      a.Link,
		Date:      a.Date,
		Source:    a.Source,
		Tags:      a.Tags,
		Summary:   a.Summary,
		Blocks:    append([]news.Block(nil), blocks...),
		CreatedAt: time.Now().UTC(),
	})
	fs.links[a.Link] = len(fs.state.Articles) - 1
	return id, fs.saveLocked()
}

func (fs *FileStore) AppendBlocks(_ context.Context, pageID string, blocks []news.Block) error {
	if len(blocks) > MaxBlocksPerRequest {
		return fmt.Errorf("%d blocks exceeds the per-request limit of %d", len(blocks), MaxBlocksPerRequest)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	a := fs.articleLocked(pageID)
	if a == nil {
		return fmt.Errorf("page %s not found", pageID)
	}
	a.Blocks = append(a.Blocks, blocks...)
	return fs.saveLocked()
}

func (fs *FileStore) UpdateFeedStatus(_ context.Context, feedID string, u FeedStatusUpdate) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.state.Feeds {
		f := &fs.state.Feeds[i]
		if f.ID != feedID {
			continue
		}
		f.Status = u.Status
		f.Updated = u.Updated
		f.Remarks = u.Remarks
		if u.Title != "" {
			f.Title = u.Title
		}
		return fs.saveLocked()
	}
	return fmt.Errorf("feed %s not found", feedID)
}

func (fs *FileStore) UpdateArticleSummary(_ context.Context, pageID, summary string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	a := fs.articleLocked(pageID)
	if a == nil {
		return fmt.Errorf("page %s not found", pageID)
	}
	a.Summary = summary
	return fs.saveLocked()
}

// Article returns the stored page for link.
func (fs *FileStore) Article(link string) (StoredArticle, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	i, ok := fs.links[link]
	if !ok {
		return StoredArticle{}, false
	}
	return fs.state.Articles[i], true
}

func (fs *FileStore) articleLocked(pageID string) *StoredArticle {
	for i := range fs.state.Articles {
		if fs.state.Articles[i].ID == pageID {
			return &fs.state.Articles[i]
		}
	}
	return nil
}

// saveLocked writes through a temp file so a crash never leaves a torn file.
func (fs *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(fs.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, ".readcopilot-*.json")
	if err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return nil
}
