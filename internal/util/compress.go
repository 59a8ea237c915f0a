package util

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
)

// CompressGzip gzips data at the default level. Used for feedback
// response bodies.
func CompressGzip(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
