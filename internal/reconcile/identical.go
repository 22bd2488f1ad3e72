package reconcile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

const compareChunkSize = 32 * 1024

// Identical reports whether two regular files have exactly the same bytes.
// Both paths must exist; symlinks are followed.
func Identical(fs billy.Filesystem, a, b string) (bool, error) {
	infoA, err := fs.Stat(a)
	if err != nil {
		return false, fmt.Errorf("failed to stat %q: %w", a, err)
	}
	infoB, err := fs.Stat(b)
	if err != nil {
		return false, fmt.Errorf("failed to stat %q: %w", b, err)
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := fs.Open(a)
	if err != nil {
		return false, fmt.Errorf("failed to open %q: %w", a, err)
	}
	defer func() {
		_ = fa.Close()
	}()

	fb, err := fs.Open(b)
	if err != nil {
		return false, fmt.Errorf("failed to open %q: %w", b, err)
	}
	defer func() {
		_ = fb.Close()
	}()

	bufA := make([]byte, compareChunkSize)
	bufB := make([]byte, compareChunkSize)
	for {
		na, errA := io.ReadFull(fa, bufA)
		if errA != nil && !isEOF(errA) {
			return false, fmt.Errorf("failed to read %q: %w", a, errA)
		}
		nb, errB := io.ReadFull(fb, bufB)
		if errB != nil && !isEOF(errB) {
			return false, fmt.Errorf("failed to read %q: %w", b, errB)
		}

		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if isEOF(errA) || isEOF(errB) {
			return isEOF(errA) && isEOF(errB), nil
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
