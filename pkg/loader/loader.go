package loader

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNoLoader is returned by GraphFile.GetText when no loader is attached.
var ErrNoLoader = errors.New("graph file has no loader")

// GraphFile is one input file of the pipeline, typically a JSON array of
// crawler records. The content is fetched through its Loader so the same
// pipeline runs on local paths and object storage keys.
type GraphFile struct {
	ID       string
	FilePath string
	Loader   GraphFileLoader
}

// NewGraphFileParams defines the input parameters for NewGraphFile.
type NewGraphFileParams struct {
	ID       string
	FilePath string
	Loader   GraphFileLoader
}

// NewGraphFile creates a GraphFile. The ID defaults to the file path.
func NewGraphFile(params NewGraphFileParams) GraphFile {
	id := params.ID
	if id == "" {
		id = params.FilePath
	}
	return GraphFile{
		ID:       id,
		FilePath: params.FilePath,
		Loader:   params.Loader,
	}
}

// GetText retrieves the raw content of the file using its Loader.
//
// Example:
//
//	raw, err := file.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	docs, err := loader.ParseDocuments(raw)
func (f *GraphFile) GetText(ctx context.Context) ([]byte, error) {
	if f.Loader == nil {
		return nil, ErrNoLoader
	}
	return f.Loader.GetFileText(ctx, *f)
}

// GraphFileLoader defines the interface for loading the contents of a GraphFile.
// Implementations may load files from disk, cloud storage, or other sources.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}

// CacheKey identifies a file in loader caches.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.FilePath
}

// Forgetter is implemented by caching loaders that can drop a file.
type Forgetter interface {
	Forget(file GraphFile)
}

// Forget drops file from l's cache when l keeps one.
func Forget(l GraphFileLoader, file GraphFile) {
	if f, ok := l.(Forgetter); ok {
		f.Forget(file)
	}
}

// ExtensionLoader picks a loader by the lower-cased file extension
// (".csv", ".json", ...) and falls back to Default.
type ExtensionLoader struct {
	Default GraphFileLoader
	ByExt   map[string]GraphFileLoader
}

func (l ExtensionLoader) GetFileText(ctx context.Context, file GraphFile) ([]byte, error) {
	if next, ok := l.ByExt[strings.ToLower(path.Ext(file.FilePath))]; ok {
		return next.GetFileText(ctx, file)
	}
	if l.Default == nil {
		return nil, ErrNoLoader
	}
	return l.Default.GetFileText(ctx, file)
}

// Forget forwards to every wrapped loader.
func (l ExtensionLoader) Forget(file GraphFile) {
	for _, next := range l.ByExt {
		Forget(next, file)
	}
	if l.Default != nil {
		Forget(l.Default, file)
	}
}
