package updater

import "os"

// Sizer verifies a downloaded file's size against the size recorded in a
// manifest.
type Sizer struct{}

// NewSizer returns a Sizer. It is stateless and safe for concurrent use.
func NewSizer() *Sizer { return &Sizer{} }

// Verify fails with KindSizeMismatch unless path's size on disk equals
// expectedBytes exactly.
func (s *Sizer) Verify(expectedBytes int64, path string) error {
	const op = "Verify"

	fi, err := os.Stat(path)
	if err != nil {
		return newError(KindSizeMismatch, op, err)
	}
	if fi.Size() != expectedBytes {
		return newError(KindSizeMismatch, op, nil)
	}
	return nil
}
