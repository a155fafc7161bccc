package loader

import (
	"context"
	"errors"
	"testing"
)

type staticLoader string

func (s staticLoader) GetFileText(ctx context.Context, file GraphFile) ([]byte, error) {
	return []byte(s), nil
}

func TestExtensionLoader(t *testing.T) {
	l := ExtensionLoader{
		Default: staticLoader("default"),
		ByExt:   map[string]GraphFileLoader{".csv": staticLoader("csv")},
	}

	tests := []struct {
		path string
		want string
	}{
		{path: "data/batch_1.csv", want: "csv"},
		{path: "data/BATCH_1.CSV", want: "csv"},
		{path: "s3://pubmed/batch_1.json", want: "default"},
		{path: "notes", want: "default"},
	}
	for _, tt := range tests {
		f := NewGraphFile(NewGraphFileParams{FilePath: tt.path, Loader: l})
		got, err := f.GetText(context.Background())
		if err != nil {
			t.Fatalf("GetText(%s) error = %v", tt.path, err)
		}
		if string(got) != tt.want {
			t.Errorf("GetText(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}

	empty := ExtensionLoader{}
	f := NewGraphFile(NewGraphFileParams{FilePath: "a.json", Loader: empty})
	if _, err := f.GetText(context.Background()); !errors.Is(err, ErrNoLoader) {
		t.Errorf("error = %v, want ErrNoLoader", err)
	}
}

func TestNewGraphFile_DefaultsID(t *testing.T) {
	f := NewGraphFile(NewGraphFileParams{FilePath: "data/a.json"})
	if f.ID != "data/a.json" {
		t.Errorf("ID = %s, want the file path", f.ID)
	}
	if _, err := f.GetText(context.Background()); !errors.Is(err, ErrNoLoader) {
		t.Errorf("error = %v, want ErrNoLoader", err)
	}
}

type forgetfulLoader struct {
	staticLoader
	forgotten []string
}

func (f *forgetfulLoader) Forget(file GraphFile) {
	f.forgotten = append(f.forgotten, file.FilePath)
}

func TestForget(t *testing.T) {
	csv := &forgetfulLoader{staticLoader: "csv"}
	base := &forgetfulLoader{staticLoader: "default"}
	l := ExtensionLoader{Default: base, ByExt: map[string]GraphFileLoader{".csv": csv}}

	f := NewGraphFile(NewGraphFileParams{FilePath: "batch_1.csv", Loader: l})
	Forget(l, f)
	if len(csv.forgotten) != 1 || len(base.forgotten) != 1 {
		t.Fatalf("forgotten = %v / %v, want one entry each", csv.forgotten, base.forgotten)
	}

	// loaders without a cache are left alone
	Forget(staticLoader("x"), f)
}
