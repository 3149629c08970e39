package core

import (
	"testing"
)

func TestImageIDFromURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantSame bool
	}{
		{
			name:     "same url produces same id",
			url:      "https://i.redd.it/abc123.jpg",
			wantSame: true,
		},
		{
			name:     "empty string",
			url:      "",
			wantSame: true,
		},
		{
			name:     "long url with query",
			url:      "https://preview.redd.it/some-long-name.jpg?width=640&crop=smart&auto=webp&s=deadbeef",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := ImageIDFromURL(tt.url)
			id2 := ImageIDFromURL(tt.url)

			if tt.wantSame && id1 != id2 {
				t.Errorf("ImageIDFromURL() produced different IDs for same URL: %s vs %s", id1, id2)
			}

			if len(id1) != ImageIDLength {
				t.Errorf("ImageIDFromURL() length = %d, want %d", len(id1), ImageIDLength)
			}
		})
	}
}

func TestImageIDFromURL_Different(t *testing.T) {
	id1 := ImageIDFromURL("https://i.redd.it/one.jpg")
	id2 := ImageIDFromURL("https://i.redd.it/two.jpg")

	if id1 == id2 {
		t.Errorf("ImageIDFromURL() produced same ID for different URLs")
	}
}

func TestAllowedExtension(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		want bool
	}{
		{name: "jpg", ext: "jpg", want: true},
		{name: "jpeg", ext: "jpeg", want: true},
		{name: "png", ext: "png", want: true},
		{name: "gif", ext: "gif", want: true},
		{name: "webp", ext: "webp", want: true},
		{name: "uppercase is not normalized here", ext: "JPG", want: false},
		{name: "svg rejected", ext: "svg", want: false},
		{name: "mp4 rejected", ext: "mp4", want: false},
		{name: "empty rejected", ext: "", want: false},
		{name: "leading dot rejected", ext: ".jpg", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AllowedExtension(tt.ext)
			if got != tt.want {
				t.Errorf("AllowedExtension(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestLocalFileName(t *testing.T) {
	tests := []struct {
		name string
		ref  ImageRef
		want string
	}{
		{
			name: "basic ref",
			ref:  ImageRef{ID: "a1b2c3d4", PostID: "t3_xyz", Extension: "jpg"},
			want: "t3_xyz-a1b2c3d4.jpg",
		},
		{
			name: "webp ref",
			ref:  ImageRef{ID: "00ff00ff", PostID: "abc", Extension: "webp"},
			want: "abc-00ff00ff.webp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocalFileName(tt.ref)
			if got != tt.want {
				t.Errorf("LocalFileName() = %v, want %v", got, tt.want)
			}
		})
	}
}
