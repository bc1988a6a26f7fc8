// Package chunker читает поток частями фиксированного размера
package chunker

import (
	"errors"
	"io"
	"os"
)

// DefaultChunkSize размер чанка по умолчанию
const DefaultChunkSize = 4096

// ChunkReader отдает поток чанками не больше size байт.
// Все чанки, кроме последнего, имеют ровно size байт.
type ChunkReader struct {
	r    io.Reader
	size int64
}

// NewChunkReader создает reader для чтения чанков
func NewChunkReader(r io.Reader, size int64) *ChunkReader {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkReader{r: r, size: size}
}

// NextChunk читает следующий чанк. В конце потока возвращает io.EOF.
func (c *ChunkReader) NextChunk() ([]byte, error) {
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// WriteTo пишет чанки в w по одному вызову Write на чанк
func (c *ChunkReader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		chunk, err := c.NextChunk()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// FileChunkReader открывает файл и читает его чанками
type FileChunkReader struct {
	*ChunkReader
	file *os.File
}

// OpenFile открывает файл для чтения чанками
func OpenFile(path string, size int64) (*FileChunkReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileChunkReader{ChunkReader: NewChunkReader(f, size), file: f}, nil
}

// Close закрывает файл
func (f *FileChunkReader) Close() error {
	return f.file.Close()
}
