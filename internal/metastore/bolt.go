// internal/metastore/bolt.go
package metastore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	uploadsBucket = []byte("uploads")
	pathsBucket   = []byte("paths")
)

// pathKeySep отделяет путь от идентификатора загрузки в ключе индекса
const pathKeySep = 0x00

// BoltJournal реализация Journal на основе BoltDB
type BoltJournal struct {
	db *bolt.DB
}

// NewBoltJournal открывает журнал загрузок на основе BoltDB
func NewBoltJournal(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	// Создаем необходимые бакеты
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(uploadsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pathsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltJournal{db: db}, nil
}

// BeginUpload регистрирует начало загрузки и индексирует ее по пути
func (bj *BoltJournal) BeginUpload(rec UploadRecord) error {
	if rec.UploadID == "" {
		return fmt.Errorf("upload id is required")
	}
	return bj.db.Update(func(tx *bolt.Tx) error {
		if err := putUpload(tx, rec); err != nil {
			return err
		}
		// Ключ индекса: путь, разделитель, время начала и id, чтобы курсор шел по порядку
		return tx.Bucket(pathsBucket).Put(pathKey(rec.Path, rec.StartedAt, rec.UploadID), []byte(rec.UploadID))
	})
}

// FinishUpload сохраняет итог загрузки
func (bj *BoltJournal) FinishUpload(rec UploadRecord) error {
	return bj.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(uploadsBucket).Get([]byte(rec.UploadID)) == nil {
			return fmt.Errorf("%w: %s", ErrUploadNotFound, rec.UploadID)
		}
		return putUpload(tx, rec)
	})
}

// GetUpload возвращает запись о загрузке
func (bj *BoltJournal) GetUpload(uploadID string) (*UploadRecord, error) {
	var rec UploadRecord

	err := bj.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(uploadsBucket).Get([]byte(uploadID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListUploads возвращает все загрузки по пути
func (bj *BoltJournal) ListUploads(path string) ([]UploadRecord, error) {
	var recs []UploadRecord

	prefix := append([]byte(path), pathKeySep)
	err := bj.db.View(func(tx *bolt.Tx) error {
		uploads := tx.Bucket(uploadsBucket)
		c := tx.Bucket(pathsBucket).Cursor()

		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			data := uploads.Get(id)
			if data == nil {
				continue
			}
			var rec UploadRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// Close закрывает хранилище
func (bj *BoltJournal) Close() error {
	return bj.db.Close()
}

func putUpload(tx *bolt.Tx, rec UploadRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(uploadsBucket).Put([]byte(rec.UploadID), encoded)
}

func pathKey(path string, startedAt time.Time, uploadID string) []byte {
	key := make([]byte, 0, len(path)+len(uploadID)+32)
	key = append(key, path...)
	key = append(key, pathKeySep)
	key = append(key, startedAt.UTC().Format("20060102T150405.000000000")...)
	key = append(key, pathKeySep)
	key = append(key, uploadID...)
	return key
}
