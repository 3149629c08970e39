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

import "errors"

// Domain validation errors
var (
	// ErrInvalidPost indicates a Post failed validation.
	ErrInvalidPost = errors.New("invalid post")

	// ErrInvalidComment indicates a Comment failed validation.
	ErrInvalidComment = errors.New("invalid comment")

	// ErrInvalidImageRef indicates an ImageRef failed validation.
	ErrInvalidImageRef = errors.New("invalid image reference")

	// ErrEmptyID indicates an entity identifier is empty.
	ErrEmptyID = errors.New("id cannot be empty")

	// ErrEmptyTitle indicates the post Title field is empty.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrEmptyBody indicates the comment Body field is empty.
	ErrEmptyBody = errors.New("body cannot be empty")

	// ErrEmptyURL indicates the image URL field is empty.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrUnsupportedExtension indicates an image extension outside the
	// accepted format set.
	ErrUnsupportedExtension = errors.New("unsupported image extension")
)
