// Copyright 2025 EntoMLgist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
	"github.com/Neels-v-Wyk/EntoMLgist/storage"
)

// Store implements storage.Store in process memory.
//
// It mirrors the conflict policies of the PostgreSQL backend, including
// referential checks, so tests exercising it exercise the same contract.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]*core.Post
	comments map[string]*core.Comment
	images   map[string]*core.ImageRef
	closed   bool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		posts:    make(map[string]*core.Post),
		comments: make(map[string]*core.Comment),
		images:   make(map[string]*core.ImageRef),
	}
}

// UpsertPosts inserts or refreshes posts. Title and DiscoveredAt survive
// refreshes; upvotes and refreshed_at follow the incoming record only when
// it is at least as recent as the stored one.
func (s *Store) UpsertPosts(ctx context.Context, posts ...*core.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStorageClosed
	}

	for _, p := range posts {
		old, ok := s.posts[p.ID]
		if !ok {
			cp := *p
			s.posts[p.ID] = &cp
			continue
		}
		if p.RefreshedAt.Before(old.RefreshedAt) {
			continue
		}
		old.Score = p.Score
		old.RefreshedAt = p.RefreshedAt
	}
	return nil
}

// UpsertComments inserts or merges comments. A comment must reference a
// stored post.
func (s *Store) UpsertComments(ctx context.Context, comments ...*core.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStorageClosed
	}

	for _, c := range comments {
		if _, ok := s.posts[c.PostID]; !ok {
			return fmt.Errorf("memstore: upsert comments: %w: unknown post %q", storage.ErrTransactionFailed, c.PostID)
		}
		old, ok := s.comments[c.ID]
		if !ok {
			cp := *c
			s.comments[c.ID] = &cp
			continue
		}
		old.Body = c.Body
		old.Score = c.Score
	}
	return nil
}

// UpsertImageRefs inserts or refreshes image references. A pending
// reference follows the latest sighting; a downloaded one is frozen.
func (s *Store) UpsertImageRefs(ctx context.Context, refs ...*core.ImageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStorageClosed
	}

	for _, ref := range refs {
		if _, ok := s.posts[ref.PostID]; !ok {
			return fmt.Errorf("memstore: upsert image refs: %w: unknown post %q", storage.ErrTransactionFailed, ref.PostID)
		}
		old, ok := s.images[ref.ID]
		if !ok {
			s.images[ref.ID] = &core.ImageRef{
				ID:        ref.ID,
				PostID:    ref.PostID,
				URL:       ref.URL,
				Extension: ref.Extension,
			}
			continue
		}
		if old.Downloaded {
			continue
		}
		old.PostID = ref.PostID
		old.URL = ref.URL
		old.Extension = ref.Extension
	}
	return nil
}

// GetPost retrieves a single post by ID.
func (s *Store) GetPost(ctx context.Context, postID string) (*core.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	p, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("memstore: get post %q: %w", postID, storage.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListPostIDs returns all stored post IDs, oldest discovery first.
func (s *Store) ListPostIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	posts := make([]*core.Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, p)
	}
	slices.SortFunc(posts, func(a, b *core.Post) int {
		if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids, nil
}

// SelectDownloadCandidates returns pending image references whose post
// clears both thresholds, ordered by post discovery time then image ID.
func (s *Store) SelectDownloadCandidates(ctx context.Context, minScore int64, minComments int) ([]*core.ImageRef, error) {
	if minComments < 0 {
		return nil, fmt.Errorf("memstore: select candidates: %w: negative comment threshold", storage.ErrInvalidQuery)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	counts := make(map[string]int, len(s.posts))
	for _, c := range s.comments {
		counts[c.PostID]++
	}

	var refs []*core.ImageRef
	for _, ref := range s.images {
		if ref.Downloaded {
			continue
		}
		p, ok := s.posts[ref.PostID]
		if !ok {
			continue
		}
		if p.Score < minScore || counts[p.ID] < minComments {
			continue
		}
		cp := *ref
		refs = append(refs, &cp)
	}

	slices.SortFunc(refs, func(a, b *core.ImageRef) int {
		pa, pb := s.posts[a.PostID], s.posts[b.PostID]
		if c := pa.DiscoveredAt.Compare(pb.DiscoveredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return refs, nil
}

// MarkDownloaded transitions an image reference to downloaded. The
// transition is one-way.
func (s *Store) MarkDownloaded(ctx context.Context, imageID, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStorageClosed
	}

	ref, ok := s.images[imageID]
	if !ok {
		return fmt.Errorf("memstore: mark downloaded %q: %w", imageID, storage.ErrNotFound)
	}
	if ref.Downloaded {
		return fmt.Errorf("memstore: mark downloaded %q: %w", imageID, storage.ErrAlreadyDownloaded)
	}
	ref.Downloaded = true
	ref.LocalPath = localPath
	return nil
}

// Stats reports row counts.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	st := &storage.Stats{
		Posts:     int64(len(s.posts)),
		Comments:  int64(len(s.comments)),
		ImageRefs: int64(len(s.images)),
	}
	for _, ref := range s.images {
		if ref.Downloaded {
			st.Downloaded++
		}
	}
	return st, nil
}

// Close marks the store closed. Further operations fail with
// ErrStorageClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
