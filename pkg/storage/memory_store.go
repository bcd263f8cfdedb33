// Package storage collects the datasets a pipeline run produces so callers
// can inspect or publish them after the run completes.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ocha-dap/hdx-scraper-unep/internal/hdx"
)

// DatasetStore holds generated datasets keyed by ISO3.
type DatasetStore interface {
	SaveDataset(ctx context.Context, iso3 string, dataset *hdx.Dataset) error
	GetDataset(ctx context.Context, iso3 string) (*hdx.Dataset, error)
	ListISO3(ctx context.Context) []string
	Close() error
}

// MemoryDatasetStore is an in-memory implementation of DatasetStore.
type MemoryDatasetStore struct {
	mu       sync.RWMutex
	datasets map[string]*hdx.Dataset
}

// NewMemoryDatasetStore creates a new MemoryDatasetStore.
func NewMemoryDatasetStore() *MemoryDatasetStore {
	return &MemoryDatasetStore{
		datasets: make(map[string]*hdx.Dataset),
	}
}

// SaveDataset stores a dataset for a country.
func (s *MemoryDatasetStore) SaveDataset(_ context.Context, iso3 string, dataset *hdx.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasets[iso3] = dataset
	return nil
}

// GetDataset retrieves a country's dataset.
func (s *MemoryDatasetStore) GetDataset(_ context.Context, iso3 string) (*hdx.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dataset, ok := s.datasets[iso3]
	if !ok {
		return nil, fmt.Errorf("dataset not found: %s", iso3)
	}
	return dataset, nil
}

// ListISO3 returns the countries with stored datasets, sorted.
func (s *MemoryDatasetStore) ListISO3(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.datasets))
	for iso3 := range s.datasets {
		codes = append(codes, iso3)
	}
	sort.Strings(codes)
	return codes
}

// Close is a no-op for memory store.
func (s *MemoryDatasetStore) Close() error {
	return nil
}
