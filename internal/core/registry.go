package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// DocumentType describes a kind of business document the pipeline recognises.
type DocumentType struct {
	Key         string // Category key: "invoice"
	Label       string // Display name: "Invoice"
	Subcategory string // Default subcategory when the classifier has no finer answer
	VoucherType string // Voucher type used when the document carries none

	Keywords         []string // Content keywords, matched case-insensitively
	FilenamePatterns []string // Substrings matched against the file name

	// Aliases lists payload keys tried before the default aliases, per field.
	Aliases map[model.FieldName][]string
	// Normalizers clean an extracted value, per field.
	Normalizers map[model.FieldName]func(string) string
}

var (
	registry   = make(map[string]DocumentType)
	registryMu sync.RWMutex
)

// Register adds a document type to the registry.
// Panics if a type with the same key is already registered.
func Register(dt DocumentType) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if dt.Key == "" {
		panic("document type key is required")
	}
	if _, exists := registry[dt.Key]; exists {
		panic(fmt.Sprintf("document type already registered: %s", dt.Key))
	}
	if dt.Label == "" {
		dt.Label = dt.Key
	}
	registry[dt.Key] = dt
}

// Get returns a document type by key.
func Get(key string) (DocumentType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	dt, ok := registry[key]
	return dt, ok
}

// All returns all registered document types sorted by key.
func All() []DocumentType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DocumentType, 0, len(registry))
	for _, dt := range registry {
		result = append(result, dt)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// TypeCount returns the number of registered document types.
func TypeCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered document types.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]DocumentType)
}
