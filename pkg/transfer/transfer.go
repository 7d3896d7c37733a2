// Package transfer implements the file retrieval seam: given a path, it
// verifies existence and streams fixed-size chunks, distinguishing
// end-of-stream and read failures from a missing file. The wire
// streaming that carries the chunks is the transport layer's concern.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the fixed chunk size for file streaming.
const ChunkSize = 1024 * 1024

// ErrFileNotFound is returned when the requested path does not exist or
// is not a regular file. It is distinct from read failures.
var ErrFileNotFound = errors.New("file not found")

// Stream reads the file at path and hands each chunk to send in order.
// It stops on the first send error. A missing file yields
// ErrFileNotFound; a failure mid-read yields a wrapped I/O error.
func Stream(path string, send func(chunk []byte) error) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	f, err := os.Open(path) // #nosec G304 - path comes from the trusted control plane
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	defer f.Close()

	buf := make([]byte, ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if serr := send(buf[:n]); serr != nil {
				return fmt.Errorf("send chunk: %w", serr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}
