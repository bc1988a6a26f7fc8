// Package namespace индексирует записи по пути с поддержкой выборки поддерева
package namespace

import (
	"strings"
	"sync"

	radix "github.com/armon/go-radix"

	"github.com/Gammanik/livestore/internal/resource"
)

// Entry путь и запись из поддерева
type Entry struct {
	Path   string
	Record *resource.Record
}

// Namespace отображение путей на записи. Блокировка держится только на время
// операции над деревом и никогда не захватывается из-под блокировки записи.
type Namespace struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

// New создает пустое пространство имен
func New() *Namespace {
	return &Namespace{tree: radix.New()}
}

// Lookup ищет запись по точному пути
func (n *Namespace) Lookup(path string) (*resource.Record, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	v, ok := n.tree.Get(path)
	if !ok {
		return nil, false
	}
	return v.(*resource.Record), true
}

// LookupSubtree возвращает все пути с указанным префиксом в лексикографическом
// порядке. Завершающие '*' в префиксе отбрасываются.
func (n *Namespace) LookupSubtree(prefix string) []Entry {
	prefix = strings.TrimRight(prefix, "*")

	n.mu.RLock()
	defer n.mu.RUnlock()

	var entries []Entry
	n.tree.WalkPrefix(prefix, func(path string, v interface{}) bool {
		entries = append(entries, Entry{Path: path, Record: v.(*resource.Record)})
		return false
	})
	return entries
}

// Insert заменяет запись по пути и возвращает предыдущую, если она была
func (n *Namespace) Insert(path string, rec *resource.Record) *resource.Record {
	n.mu.Lock()
	defer n.mu.Unlock()

	old, updated := n.tree.Insert(path, rec)
	if !updated {
		return nil
	}
	return old.(*resource.Record)
}

// Remove отвязывает путь. Уже выданные записи продолжают работать.
func (n *Namespace) Remove(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.tree.Delete(path)
	return ok
}

// Len количество путей
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tree.Len()
}
