// Package object describes a user-selected file and inspects it before upload.
package object

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Object is one selected image, the unit of a session. Key doubles as the
// stored object's key, so it is the original filename.
type Object struct {
	Name   string
	Path   string
	Size   int64
	Format string
	Width  int
	Height int
}

// Key returns the blob-store key for this object.
func (o *Object) Key() string {
	return o.Name
}

// Inspect stats and decodes the file at path. A file that does not decode as
// an image is rejected, which keeps garbage out of the analysis pipeline.
func Inspect(path string) (*Object, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if stat.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	bounds := img.Bounds()

	return &Object{
		Name:   filepath.Base(path),
		Path:   path,
		Size:   stat.Size(),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
