package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/biomedkg/kgx/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// ErrNoRecords is returned for CSV content without a header and data rows.
var ErrNoRecords = errors.New("csv file is empty or contains no records")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVGraphLoader loads crawler exports saved as CSV and hands them on as
// the JSON record array loader.ParseDocuments expects. Every row becomes
// one record keyed by the header.
type CSVGraphLoader struct {
	loader loader.GraphFileLoader

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewCSVGraphLoader creates a new CSVGraphLoader reading raw bytes through
// the given base loader.
func NewCSVGraphLoader(loader loader.GraphFileLoader) *CSVGraphLoader {
	return &CSVGraphLoader{
		loader: loader,
		cache:  make(map[string][]byte),
	}
}

// WithCSV routes .csv files through a CSVGraphLoader and everything else
// straight to base.
func WithCSV(base loader.GraphFileLoader) loader.GraphFileLoader {
	return loader.ExtensionLoader{
		Default: base,
		ByExt:   map[string]loader.GraphFileLoader{".csv": NewCSVGraphLoader(base)},
	}
}

// GetFileText retrieves the CSV file and converts it to JSON records.
func (l *CSVGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}

		parsed, err := RecordsJSON(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.FilePath, err)
		}

		l.cacheMu.Lock()
		l.cache[key] = parsed
		l.cacheMu.Unlock()

		return parsed, nil
	})

	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// RecordsJSON converts CSV content with a header row into a JSON array of
// objects. Blank rows and unparsable rows are skipped, as are cells under
// an empty header. Missing trailing cells are left out of the record.
func RecordsJSON(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, ErrNoRecords
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records := []map[string]string{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if isBlank(row) {
			continue
		}

		record := make(map[string]string, len(header))
		for i, field := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			record[header[i]] = field
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return json.Marshal(records)
}

func isBlank(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// Forget drops the converted records and the raw file held by the base loader.
func (l *CSVGraphLoader) Forget(file loader.GraphFile) {
	l.cacheMu.Lock()
	delete(l.cache, loader.CacheKey(file))
	l.cacheMu.Unlock()
	loader.Forget(l.loader, file)
}
