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

package core

import "fmt"

// ValidatePost validates a Post according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - Title must not be empty
//
// NOT validated:
//   - Score (zero and negative values occur upstream)
//   - DiscoveredAt/RefreshedAt (assigned by the store and the pipeline)
func ValidatePost(post *Post) error {
	if post == nil {
		return fmt.Errorf("%w: post is nil", ErrInvalidPost)
	}

	if post.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPost, ErrEmptyID)
	}

	if post.Title == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPost, ErrEmptyTitle)
	}

	return nil
}

// ValidateComment validates a Comment according to domain rules.
//
// Validation rules:
//   - ID and PostID must not be empty
//   - Body must not be empty (deleted bodies are dropped at extraction)
func ValidateComment(comment *Comment) error {
	if comment == nil {
		return fmt.Errorf("%w: comment is nil", ErrInvalidComment)
	}

	if comment.ID == "" || comment.PostID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidComment, ErrEmptyID)
	}

	if comment.Body == "" {
		return fmt.Errorf("%w: %w", ErrInvalidComment, ErrEmptyBody)
	}

	return nil
}

// ValidateImageRef validates an ImageRef according to domain rules.
//
// Validation rules:
//   - ID and PostID must not be empty
//   - URL must not be empty
//   - Extension must be one of the accepted formats
//
// NOT validated:
//   - Downloaded/LocalPath (managed by the download stage)
func ValidateImageRef(ref *ImageRef) error {
	if ref == nil {
		return fmt.Errorf("%w: image ref is nil", ErrInvalidImageRef)
	}

	if ref.ID == "" || ref.PostID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidImageRef, ErrEmptyID)
	}

	if ref.URL == "" {
		return fmt.Errorf("%w: %w", ErrInvalidImageRef, ErrEmptyURL)
	}

	if !AllowedExtension(ref.Extension) {
		return fmt.Errorf("%w: %w %q", ErrInvalidImageRef, ErrUnsupportedExtension, ref.Extension)
	}

	return nil
}
