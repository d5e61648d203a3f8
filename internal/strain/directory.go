// Package strain resolves plant strains into scheduling characteristics
package strain

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Record is a raw strain record as stored by a directory. Two shapes are
// accepted: the catalog shape (thcContent, cbdContent, type, floweringTime)
// and the user-strain shape (thcPercentage, heightIndoor, strainType, floweringWeeks).
type Record map[string]interface{}

// Directory is a read-only strain source
type Directory interface {
	Lookup(ctx context.Context, strainID string) (Record, bool, error)
}

// MemoryDirectory is a mutex-guarded in-memory directory
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryDirectory creates a directory seeded with records keyed by strain id
func NewMemoryDirectory(records map[string]Record) *MemoryDirectory {
	d := &MemoryDirectory{records: make(map[string]Record, len(records))}
	for id, r := range records {
		d.records[id] = r
	}
	return d
}

// Put adds or replaces a record
func (d *MemoryDirectory) Put(strainID string, record Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[strainID] = record
}

// Lookup implements Directory
func (d *MemoryDirectory) Lookup(ctx context.Context, strainID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[strainID]
	return r, ok, nil
}

// Len returns the number of records
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

type catalogFile struct {
	Strains []Record `yaml:"strains"`
}

// LoadYAML reads a strain catalog file of the form
//
//	strains:
//	  - id: blue-dream
//	    type: Sativa-dominant hybrid
//	    floweringTime: 9-10 weeks
func LoadYAML(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied catalog path
	if err != nil {
		return nil, fmt.Errorf("failed to read strain catalog: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses catalog bytes; records without an id are rejected
func ParseYAML(data []byte) (*MemoryDirectory, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strain catalog: %w", err)
	}
	records := make(map[string]Record, len(file.Strains))
	for i, r := range file.Strains {
		id, _ := r["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("strain catalog entry %d has no id", i)
		}
		records[id] = r
	}
	return NewMemoryDirectory(records), nil
}

// ChainDirectory consults directories in order; the first hit wins
type ChainDirectory []Directory

// Lookup implements Directory. An error from one source does not hide a hit in a later one.
func (c ChainDirectory) Lookup(ctx context.Context, strainID string) (Record, bool, error) {
	var firstErr error
	for _, d := range c {
		r, ok, err := d.Lookup(ctx, strainID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return r, true, nil
		}
	}
	return nil, false, firstErr
}
