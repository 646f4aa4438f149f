package sender

import (
	"bytes"
	"os"

	"github.com/pkg/errors"

	"github.com/kboyd/stp-go/internal/stperr"
)

// maxFileSize is spec.md §6's bound on the input file.
const maxFileSize = 800 * 1024

var (
	ErrFileTooLarge = errors.New("sender: input file exceeds 800KB limit")
	ErrFileHasCRLF  = errors.New("sender: input file contains CRLF line endings")
)

// loadFile reads the entire input file into memory, per spec.md §6
// ("the sender reads the entire input file at startup").
func loadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stperr.Wrapf(err, "read %s", path)
	}
	if len(data) > maxFileSize {
		return nil, ErrFileTooLarge
	}
	if bytes.Contains(data, []byte("\r\n")) {
		return nil, ErrFileHasCRLF
	}
	return data, nil
}
