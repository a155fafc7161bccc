package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biomedkg/kgx/internal/queue"
	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/graph"
	"github.com/biomedkg/kgx/pkg/kgraph"
	"github.com/biomedkg/kgx/pkg/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeFragment(t *testing.T, path string, f common.Fragment) {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, b)
}

func sampleFragment(occurrences int, pmid string) common.Fragment {
	return common.NewFragment(
		common.Entities{
			"疾病": {{Text: "矽肺", Occurrences: occurrences}},
			"基因": {{Text: "IL-6", Occurrences: 1}},
		},
		[]common.Relation{{
			Source:     common.EntityRef{Text: "IL-6", Type: "基因"},
			Target:     common.EntityRef{Text: "矽肺", Type: "疾病"},
			Relation:   "causes",
			Confidence: 0.8,
		}},
		[]common.Metadata{{"pmid": pmid}},
	)
}

// fakeChatServer answers OpenAI style chat completion requests with fixed
// entity and relation replies.
func fakeChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		content := `[{"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "相关", "confidence": 0.9}]`
		if strings.Contains(string(raw), "实体识别专家") {
			content = `{"疾病": [{"text": "矽肺"}], "基因": [{"text": "IL-6"}]}`
		}
		body, _ := json.Marshal(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "moonshot-v1-8k",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("AI_ADAPTER", "openai")
	t.Setenv("AI_CHAT_URL", srv.URL)
	t.Setenv("AI_CHAT_KEY", "test-key")
	t.Setenv("AI_CHAT_MODEL", "moonshot-v1-8k")
	t.Setenv("AI_MIN_INTERVAL", "1ms")
	t.Setenv("KG_ENTITY_TYPES", "疾病,基因")
	return srv
}

const pubmedRecords = `[{"pmid": "1001", "title": "矽肺与炎症", "abstract": "矽肺患者的IL-6水平升高。"}]`

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"pubmed_results_batch_2.json", "pubmed_results_batch_1.json", "other.json"} {
		writeFile(t, filepath.Join(dir, name), []byte("[]"))
	}

	got, err := resolveInputs(dir, defaultPattern)
	if err != nil {
		t.Fatalf("resolveInputs(dir) error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "pubmed_results_batch_1.json"),
		filepath.Join(dir, "pubmed_results_batch_2.json"),
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("resolveInputs(dir) = %v, want %v", got, want)
	}

	got, err = resolveInputs(filepath.Join(dir, "*.json"), defaultPattern)
	if err != nil || len(got) != 3 {
		t.Errorf("resolveInputs(glob) = %v, %v, want 3 files", got, err)
	}

	if _, err := resolveInputs(filepath.Join(dir, "none_*.json"), defaultPattern); !errors.Is(err, ErrNoInputFiles) {
		t.Errorf("error = %v, want ErrNoInputFiles", err)
	}
	if _, err := resolveInputs(dir, "missing_*.json"); !errors.Is(err, ErrNoInputFiles) {
		t.Errorf("error = %v, want ErrNoInputFiles", err)
	}
}

func TestEnqueueMessages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pubmed_results_batch_1.json"), []byte("[]"))

	bodies, err := enqueueMessages(
		[]string{dir, "s3://pubmed/2024/batch_7.json"},
		&enqueueOptions{outputDir: "out", format: "csv", pattern: defaultPattern},
	)
	if err != nil {
		t.Fatalf("enqueueMessages() error = %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("got %d messages, want 2", len(bodies))
	}

	msg, err := queue.DecodeMessage(bodies[1])
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if msg.File != "s3://pubmed/2024/batch_7.json" || msg.OutputDir != "out" || msg.Format != "csv" {
		t.Errorf("message = %+v", msg)
	}

	if _, err := enqueueMessages([]string{filepath.Join(dir, "nothing")}, &enqueueOptions{pattern: defaultPattern}); !errors.Is(err, ErrNoInputFiles) {
		t.Errorf("error = %v, want ErrNoInputFiles", err)
	}
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "batch")
	writeFragment(t, filepath.Join(in, "a", store.CombinedFileName), sampleFragment(3, "1"))
	writeFragment(t, filepath.Join(in, "b", store.CombinedFileName), sampleFragment(2, "2"))
	writeFragment(t, filepath.Join(in, "c", store.CombinedFileName), sampleFragment(2, "2"))
	out := filepath.Join(dir, "merged", "merged_knowledge_graph.json")

	stdout, err := execute(t, "merge", in, "-o", out, "--min-confidence", "0.5")
	if err != nil {
		t.Fatalf("merge error = %v", err)
	}
	if !strings.Contains(stdout, "Merged 3 files") {
		t.Errorf("stdout = %q", stdout)
	}

	raw, err := store.ReadFile(out)
	if err != nil {
		t.Fatalf("read merged graph: %v", err)
	}
	merged, err := store.DecodeFragment(raw)
	if err != nil {
		t.Fatalf("decode merged graph: %v", err)
	}
	if got := merged.Entities["疾病"][0].Occurrences; got != 5 {
		t.Errorf("矽肺 occurrences = %d, want 5 (duplicate fragment skipped)", got)
	}
	if len(merged.Relations) != 1 || merged.Relations[0].Relation != "引起" {
		t.Errorf("relations = %+v, want one 引起 relation", merged.Relations)
	}

	for _, suffix := range []string{"_entities.csv", "_relations.csv"} {
		p := strings.TrimSuffix(out, ".json") + suffix
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
		if !bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) {
			t.Errorf("%s has no byte order mark", p)
		}
	}
	relations, _ := os.ReadFile(strings.TrimSuffix(out, ".json") + "_relations.csv")
	if !strings.Contains(string(relations), "IL-6,矽肺,引起,0.8") {
		t.Errorf("relations csv = %q", relations)
	}
}

func TestMergeCommand_SumDuplicates(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "batch")
	writeFragment(t, filepath.Join(in, "a", store.CombinedFileName), sampleFragment(3, "1"))
	writeFragment(t, filepath.Join(in, "b", store.CombinedFileName), sampleFragment(3, "1"))
	out := filepath.Join(dir, "merged.json")

	if _, err := execute(t, "merge", in, "-o", out, "--sum-duplicates", "--export-csv=false"); err != nil {
		t.Fatalf("merge error = %v", err)
	}
	raw, err := store.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := store.DecodeFragment(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := merged.Entities["疾病"][0].Occurrences; got != 6 {
		t.Errorf("occurrences = %d, want 6", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "merged_entities.csv")); !os.IsNotExist(err) {
		t.Errorf("csv written although --export-csv=false")
	}
}

func TestVisualizeCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merged.json")
	writeFragment(t, path, sampleFragment(3, "1"))

	stdout, err := execute(t, "visualize", path, "--all")
	if err != nil {
		t.Fatalf("visualize error = %v", err)
	}
	if !strings.Contains(stdout, "Graph: 2 nodes, 1 edges") {
		t.Errorf("stdout = %q", stdout)
	}
	for _, name := range []string{
		kgraph.NodesFileName,
		kgraph.EdgesFileName,
		kgraph.GraphMLFileName,
		kgraph.HTMLFileName,
		kgraph.StatisticsFileName,
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestVisualizeCommand_NothingSelected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merged.json")
	writeFragment(t, path, sampleFragment(1, "1"))

	stdout, err := execute(t, "visualize", path)
	if err != nil {
		t.Fatalf("visualize error = %v", err)
	}
	if !strings.Contains(stdout, "No output selected") {
		t.Errorf("stdout = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, kgraph.HTMLFileName)); !os.IsNotExist(err) {
		t.Error("html written without --html")
	}
}

func TestProcessCommand(t *testing.T) {
	fakeChatServer(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "pubmed_results_batch_1.json")
	writeFile(t, input, []byte(pubmedRecords))
	out := filepath.Join(dir, "out")

	stdout, err := execute(t, "process", input, "-o", out, "-f", "json")
	if err != nil {
		t.Fatalf("process error = %v", err)
	}
	if !strings.Contains(stdout, "entities: 2, relations: 1") {
		t.Errorf("stdout = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "pubmed_results_batch_1", "knowledge_graph.json")); err != nil {
		t.Errorf("expected knowledge_graph.json: %v", err)
	}
}

func TestBatchCommand(t *testing.T) {
	fakeChatServer(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	writeFile(t, filepath.Join(in, "pubmed_results_batch_1.json"), []byte(pubmedRecords))
	writeFile(t, filepath.Join(in, "pubmed_results_batch_2.json"), []byte(pubmedRecords))
	writeFile(t, filepath.Join(in, "pubmed_results_batch_3.json"), []byte(`not json`))
	out := filepath.Join(dir, "out")

	stdout, err := execute(t, "batch", in, "-o", out, "--parallel", "-w", "2")
	if err != nil {
		t.Fatalf("batch error = %v", err)
	}
	if !strings.Contains(stdout, "Successful: 2, Failed: 1") {
		t.Errorf("stdout = %q", stdout)
	}

	summaries, _ := filepath.Glob(filepath.Join(out, "batch_run_*", "batch_summary.json"))
	if len(summaries) != 1 {
		t.Fatalf("found %d batch summaries, want 1", len(summaries))
	}
	var report graph.BatchReport
	raw, _ := os.ReadFile(summaries[0])
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if report.Summary.TotalEntities != 4 || report.FileDetails["pubmed_results_batch_3.json"].Status != graph.StatusError {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(summaries[0]), "metrics.prom")); err != nil {
		t.Errorf("expected metrics.prom: %v", err)
	}
}

func TestArgumentErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "pubmed_results_batch_1.json")
	writeFile(t, input, []byte(pubmedRecords))

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr error
	}{
		{name: "process missing file", args: []string{"process", filepath.Join(dir, "missing.json")}, wantErr: os.ErrNotExist},
		{name: "process invalid format", args: []string{"process", input, "-f", "xml"}},
		{name: "process wrong arg count", args: []string{"process"}},
		{name: "batch without matches", args: []string{"batch", dir, "-p", "none_*.json"}, wantErr: ErrNoInputFiles},
		{name: "batch invalid workers", args: []string{"batch", dir, "-w", "0"}},
		{name: "merge missing path", args: []string{"merge", filepath.Join(dir, "missing")}, wantErr: os.ErrNotExist},
		{name: "merge empty dir", args: []string{"merge", t.TempDir()}, wantErr: ErrNoInputFiles},
		{name: "merge bad confidence", args: []string{"merge", dir, "--min-confidence", "2"}},
		{name: "visualize missing file", args: []string{"visualize", filepath.Join(dir, "missing.json"), "--all"}},
		{
			name:    "invalid chunk config",
			env:     map[string]string{"KG_MAX_CHUNK_SIZE": "100", "KG_OVERLAP_SIZE": "200"},
			args:    []string{"process", input},
			wantErr: graph.ErrInvalidChunkConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
