package events

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Transport compression. Streams negotiate deflate via the usual
// Accept-Encoding / Content-Encoding headers; the payload stays the
// wire format either way.

// CompressDeflate deflates data at the default level.
func CompressDeflate(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := flate.NewWriter(&b, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DeflateReader wraps r with deflate decompression.
func DeflateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}
