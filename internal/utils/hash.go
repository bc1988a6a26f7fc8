package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// CalculateSHA256 вычисляет SHA-256 хеш данных
func CalculateSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CalculateFileSHA256 вычисляет SHA-256 хеш содержимого потока
func CalculateFileSHA256(reader io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest накапливает SHA-256 и размер данных, поступающих частями
type Digest struct {
	h    hash.Hash
	size int64
}

// NewDigest создает пустой накопитель
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write добавляет данные, никогда не возвращает ошибку
func (d *Digest) Write(p []byte) (int, error) {
	d.size += int64(len(p))
	return d.h.Write(p)
}

// Size количество учтенных байт
func (d *Digest) Size() int64 {
	return d.size
}

// Hex текущее значение хеша
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
