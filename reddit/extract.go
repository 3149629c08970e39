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

package reddit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
)

// Comment bodies the upstream substitutes for removed content. Dropped at
// extraction together with empty bodies.
var deletedBodies = map[string]struct{}{
	"[deleted]": {},
	"[removed]": {},
}

// listingPage mirrors the upstream envelope around both the hot listing and
// each page of a detail response.
type listingPage struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// postPayload is the subset of post fields the pipeline consumes.
type postPayload struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	Ups           int64                    `json:"ups"`
	MediaMetadata map[string]mediaMetadata `json:"media_metadata"`
	Preview       struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// mediaMetadata is one gallery entry. E distinguishes images from videos and
// animated media; S carries the source variant.
type mediaMetadata struct {
	E string `json:"e"`
	S struct {
		U string `json:"u"`
	} `json:"s"`
}

// commentPayload is the subset of comment fields the pipeline consumes.
type commentPayload struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
	Ups    int64  `json:"ups"`
}

// Extractor parses upstream payloads into domain records.
//
// Extraction is pure: the same payload always yields the same records in the
// same order. Malformed fields inside a parseable payload are logged and
// defaulted; only a payload that cannot be decoded at all is an error.
type Extractor struct {
	botAuthors map[string]struct{}
	logger     *slog.Logger
}

// NewExtractor creates an Extractor that drops comments from the given bot
// authors. A nil logger falls back to slog.Default().
func NewExtractor(botAuthors []string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	bots := make(map[string]struct{}, len(botAuthors))
	for _, a := range botAuthors {
		bots[a] = struct{}{}
	}
	return &Extractor{botAuthors: bots, logger: logger}
}

// ListingPosts extracts posts from a hot-listing payload.
//
// Entries without an id or title are skipped with a warning. The score is
// taken as listed; the detail pass refreshes it again later in the same run.
func (e *Extractor) ListingPosts(raw []byte) ([]core.Post, error) {
	var page listingPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: listing: %w", ErrMalformedPayload, err)
	}

	posts := make([]core.Post, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		var p postPayload
		if err := json.Unmarshal(child.Data, &p); err != nil {
			e.logger.Warn("skipping unparseable listing entry", "err", err)
			continue
		}
		if p.ID == "" || p.Title == "" {
			e.logger.Warn("skipping listing entry with missing fields", "id", p.ID)
			continue
		}
		posts = append(posts, core.Post{ID: p.ID, Title: p.Title, Score: p.Ups})
	}
	return posts, nil
}

// PostDetail extracts the post record from a detail payload.
//
// The returned post carries the current upstream score. postID is
// authoritative; an id inside the payload never overrides it.
func (e *Extractor) PostDetail(raw []byte, postID string) (*core.Post, error) {
	pages, err := detailPages(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: detail for %s: %w", ErrMalformedPayload, postID, err)
	}

	p, err := firstPost(pages)
	if err != nil {
		return nil, fmt.Errorf("%w: detail for %s: %w", ErrMalformedPayload, postID, err)
	}

	if p.Title == "" {
		e.logger.Warn("post detail missing title", "post_id", postID)
	}
	return &core.Post{ID: postID, Title: p.Title, Score: p.Ups}, nil
}

// Comments extracts the qualifying top-level comments from a detail payload.
//
// Replies are not descended into. Bot authors and deleted or removed bodies
// are dropped here so they never reach storage. All survivors are returned;
// ranking and truncation are the caller's concern.
func (e *Extractor) Comments(raw []byte, postID string) ([]core.Comment, error) {
	pages, err := detailPages(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: comments for %s: %w", ErrMalformedPayload, postID, err)
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("%w: comments for %s: missing comment page", ErrMalformedPayload, postID)
	}

	var comments []core.Comment
	for _, child := range pages[1].Data.Children {
		// Comment trees end with a "more" stub; only t1 entries are comments.
		if child.Kind != "t1" {
			continue
		}

		var c commentPayload
		if err := json.Unmarshal(child.Data, &c); err != nil {
			e.logger.Warn("skipping unparseable comment", "post_id", postID, "err", err)
			continue
		}
		if c.ID == "" {
			e.logger.Warn("skipping comment with missing id", "post_id", postID)
			continue
		}
		if _, bot := e.botAuthors[c.Author]; bot {
			continue
		}
		if _, gone := deletedBodies[c.Body]; gone || c.Body == "" {
			continue
		}

		comments = append(comments, core.Comment{
			ID:     c.ID,
			PostID: postID,
			Body:   c.Body,
			Score:  c.Ups,
		})
	}
	return comments, nil
}

// ImageRefs extracts the downloadable image references from a detail payload.
//
// Gallery posts carry media_metadata with upstream media ids; single images
// fall back to the preview block, where the id is derived from the URL hash.
// URLs are stored as delivered, HTML entities included; the downloader
// unescapes them before requesting.
func (e *Extractor) ImageRefs(raw []byte, postID string) ([]core.ImageRef, error) {
	pages, err := detailPages(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: images for %s: %w", ErrMalformedPayload, postID, err)
	}

	p, err := firstPost(pages)
	if err != nil {
		return nil, fmt.Errorf("%w: images for %s: %w", ErrMalformedPayload, postID, err)
	}

	var refs []core.ImageRef
	if len(p.MediaMetadata) > 0 {
		// Map order is random; sort ids so extraction stays deterministic.
		ids := make([]string, 0, len(p.MediaMetadata))
		for id := range p.MediaMetadata {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			m := p.MediaMetadata[id]
			if m.E != "Image" || m.S.U == "" {
				continue
			}
			ref := core.ImageRef{
				ID:        id,
				PostID:    postID,
				URL:       m.S.U,
				Extension: extensionFromURL(m.S.U),
			}
			refs = e.appendAllowed(refs, ref)
		}
		return refs, nil
	}

	for _, img := range p.Preview.Images {
		u := img.Source.URL
		if u == "" {
			continue
		}
		ref := core.ImageRef{
			ID:        core.ImageIDFromURL(u),
			PostID:    postID,
			URL:       u,
			Extension: extensionFromURL(u),
		}
		refs = e.appendAllowed(refs, ref)
	}
	return refs, nil
}

// appendAllowed appends ref when its extension is in the accepted format set,
// logging the drop otherwise.
func (e *Extractor) appendAllowed(refs []core.ImageRef, ref core.ImageRef) []core.ImageRef {
	if !core.AllowedExtension(ref.Extension) {
		e.logger.Warn("skipping image with unsupported extension",
			"post_id", ref.PostID, "image_id", ref.ID, "extension", ref.Extension)
		return refs
	}
	return append(refs, ref)
}

// detailPages decodes the two-page detail envelope: the post itself followed
// by its comment tree.
func detailPages(raw []byte) ([]listingPage, error) {
	var pages []listingPage
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("empty detail envelope")
	}
	return pages, nil
}

// firstPost returns the post payload from the first detail page.
func firstPost(pages []listingPage) (*postPayload, error) {
	if len(pages[0].Data.Children) == 0 {
		return nil, fmt.Errorf("no post in detail payload")
	}
	var p postPayload
	if err := json.Unmarshal(pages[0].Data.Children[0].Data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// extensionFromURL returns the lowercased extension after the last dot of the
// URL path. The query string is stripped first so its own dots cannot pose as
// an extension.
func extensionFromURL(url string) string {
	s := url
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToLower(s)
}
