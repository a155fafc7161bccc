package queue

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/graph"
	fileio "github.com/biomedkg/kgx/pkg/loader/io"
	s3loader "github.com/biomedkg/kgx/pkg/loader/s3"
)

const records = `[{"pmid": "1001", "title": "矽肺与炎症", "abstract": "矽肺患者的IL-6水平升高。"}]`

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) ai.Completion {
	if strings.Contains(prompt, "实体识别专家") {
		return ai.Completion{Content: `{"疾病": [{"text": "矽肺"}], "基因": [{"text": "IL-6"}]}`}
	}
	return ai.Completion{Content: `[{"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "相关", "confidence": 0.9}]`}
}

type objectStore map[string]string

func (o objectStore) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := o[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

type fakeUploader struct {
	dirs     []string
	prefixes []string
}

func (u *fakeUploader) UploadDir(ctx context.Context, dir string, keyPrefix string) ([]string, error) {
	u.dirs = append(u.dirs, dir)
	u.prefixes = append(u.prefixes, keyPrefix)
	return nil, nil
}

func newProcessor(t *testing.T, outputDir string, uploader Uploader) *Processor {
	t.Helper()
	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		NewCompleter: func() (ai.Completer, error) { return stubCompleter{}, nil },
		EntityTypes:  []string{"疾病", "基因"},
	})
	if err != nil {
		t.Fatalf("NewGraphClient() error = %v", err)
	}
	p := &Processor{
		Client:       client,
		LocalLoader:  fileio.NewIOGraphFileLoader(),
		RemoteLoader: s3loader.NewS3GraphFileLoaderWithClient("pubmed", objectStore{"pubmed/2024/batch_7.json": records}),
		OutputDir:    outputDir,
	}
	if uploader != nil {
		p.Uploader = uploader
	}
	return p
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantFormat string
		wantErr    bool
	}{
		{name: "defaults to json", body: `{"file": "a.json"}`, wantFormat: "json"},
		{name: "explicit format", body: `{"file": "a.json", "format": "rdf"}`, wantFormat: "rdf"},
		{name: "missing file", body: `{"format": "csv"}`, wantErr: true},
		{name: "unknown format", body: `{"file": "a.json", "format": "xml"}`, wantErr: true},
		{name: "not json", body: `file=a.json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("DecodeMessage() error = %v, want ErrInvalidMessage", err)
			}
			if !tt.wantErr && msg.Format != tt.wantFormat {
				t.Errorf("Format = %s, want %s", msg.Format, tt.wantFormat)
			}
		})
	}
}

func TestProcessorHandle_LocalFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "batch_1.json")
	if err := os.WriteFile(input, []byte(records), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	up := &fakeUploader{}
	p := newProcessor(t, out, up)

	res, err := p.Handle(context.Background(), []byte(`{"file": "`+input+`"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Fragment.Metadata.EntityCount != 2 || res.Fragment.Metadata.RelationCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", res.Fragment.Metadata.EntityCount, res.Fragment.Metadata.RelationCount)
	}

	wantDir := filepath.Join(out, "batch_1")
	if _, err := os.Stat(filepath.Join(wantDir, "knowledge_graph.json")); err != nil {
		t.Errorf("expected knowledge_graph.json in %s: %v", wantDir, err)
	}
	if len(up.dirs) != 1 || up.dirs[0] != wantDir || up.prefixes[0] != "batch_1" {
		t.Errorf("uploads = %v %v", up.dirs, up.prefixes)
	}
}

func TestProcessorHandle_RemoteFile(t *testing.T) {
	dir := t.TempDir()
	p := newProcessor(t, dir, nil)

	body := `{"file": "s3://pubmed/2024/batch_7.json", "output_dir": "` + filepath.Join(dir, "custom") + `", "format": "csv"}`
	res, err := p.Handle(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.OutputDir != filepath.Join(dir, "custom", "batch_7") {
		t.Errorf("OutputDir = %s", res.OutputDir)
	}
	if _, err := os.Stat(filepath.Join(res.OutputDir, "entities.csv")); err != nil {
		t.Errorf("expected entities.csv: %v", err)
	}
}

func TestProcessorHandle_Errors(t *testing.T) {
	dir := t.TempDir()
	p := newProcessor(t, dir, nil)

	if _, err := p.Handle(context.Background(), []byte(`{}`)); err == nil {
		t.Error("expected error for message without file")
	}
	if _, err := p.Handle(context.Background(), []byte(`{"file": "`+filepath.Join(dir, "missing.json")+`"}`)); err == nil {
		t.Error("expected error for missing file")
	}

	p.RemoteLoader = nil
	if _, err := p.Handle(context.Background(), []byte(`{"file": "s3://pubmed/2024/batch_7.json"}`)); err == nil {
		t.Error("expected error without object storage")
	}
}
