package download

import (
	"fmt"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// formatForExtension maps the stored extension to the format name the
// image registry reports.
var formatForExtension = map[string]string{
	"jpg":  "jpeg",
	"jpeg": "jpeg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
}

// validateImage decodes the file and checks the detected format against
// the extension the reference claims. A payload that does not decode, or
// decodes as something else, fails validation.
func validateImage(path, extension string) error {
	want, ok := formatForExtension[extension]
	if !ok {
		return fmt.Errorf("%w: unsupported extension %q", ErrValidationFailed, extension)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	defer f.Close()

	_, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if format != want {
		return fmt.Errorf("%w: got %s, extension says %s", ErrValidationFailed, format, want)
	}
	return nil
}
