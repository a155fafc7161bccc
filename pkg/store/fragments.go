package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	CombinedFileName  = "knowledge_graph.json"
	EntitiesFileName  = "entities.json"
	RelationsFileName = "relations.json"

	combinedSuffix = "_graph.json"
	loadParallel   = 8
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SourcedFragment is a fragment together with the path it was read from.
type SourcedFragment struct {
	Source string
	common.Fragment
}

// IsCombinedFile reports whether name holds a whole fragment.
func IsCombinedFile(name string) bool {
	return name == CombinedFileName || strings.HasSuffix(name, combinedSuffix)
}

// FindFragmentFiles lists fragment files below root. A .json file is
// returned as is; a directory is searched recursively for combined
// fragment files and entities.json/relations.json pairs.
func FindFragmentFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		if strings.HasSuffix(root, ".json") {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if IsCombinedFile(name) || name == EntitiesFileName || name == RelationsFileName {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	logger.Info("[Store] Found fragment files", "root", root, "count", len(files))
	return DedupeStrings(files), nil
}

// LoadFragments reads fragment files. Combined files come first in input
// order, followed by entities.json files paired with the relations.json
// in the same directory. A split pair is ignored when a combined file of
// the same directory is also listed, and a relations.json without
// entities.json is ignored. Unreadable files are logged and skipped.
func LoadFragments(ctx context.Context, paths []string) ([]SourcedFragment, error) {
	var combined, entityFiles []string
	relationFiles := make(map[string]string)
	combinedDirs := make(map[string]struct{})

	for _, p := range DedupeStrings(paths) {
		name := filepath.Base(p)
		switch {
		case IsCombinedFile(name):
			combined = append(combined, p)
			combinedDirs[filepath.Dir(p)] = struct{}{}
		case name == EntitiesFileName:
			entityFiles = append(entityFiles, p)
		case name == RelationsFileName:
			relationFiles[filepath.Dir(p)] = p
		default:
			combined = append(combined, p)
		}
	}

	type job struct {
		entities  string
		relations string
	}
	var jobs []job
	for _, p := range combined {
		jobs = append(jobs, job{entities: p})
	}
	for _, p := range entityFiles {
		dir := filepath.Dir(p)
		if _, ok := combinedDirs[dir]; ok {
			logger.Debug("[Store] Skipping split files next to a combined file", "dir", dir)
			continue
		}
		jobs = append(jobs, job{entities: p, relations: relationFiles[dir]})
	}

	loaded := make([]*SourcedFragment, len(jobs))
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(loadParallel)
	for i, j := range jobs {
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var (
				f   common.Fragment
				err error
			)
			if j.relations == "" && filepath.Base(j.entities) != EntitiesFileName {
				f, err = readCombined(j.entities)
			} else {
				f, err = readPair(j.entities, j.relations)
			}
			if err != nil {
				logger.Error("[Store] Failed to load fragment", "path", j.entities, "err", err)
				return nil
			}
			logger.Debug("[Store] Loaded fragment", "path", j.entities)
			loaded[i] = &SourcedFragment{Source: j.entities, Fragment: f}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make([]SourcedFragment, 0, len(loaded))
	for _, f := range loaded {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

// ReadFile reads path and returns UTF-8 content. A leading byte order
// mark is dropped and content that is not valid UTF-8 is decoded as
// GB18030.
func ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeText(raw)
}

// DecodeText normalizes raw to UTF-8 as ReadFile does.
func DecodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode GB18030: %w", err)
	}
	return decoded, nil
}

// fragmentFile mirrors the on-disk layout. Every key is optional. Items
// stay raw so one malformed entry does not cost the whole file.
type fragmentFile struct {
	Entities  json.RawMessage `json:"entities"`
	Relations json.RawMessage `json:"relations"`
	Metadata  json.RawMessage `json:"metadata"`
}

type fragmentMetadata struct {
	SourceCount *int              `json:"source_count"`
	Sources     []common.Metadata `json:"sources"`
}

// DecodeFragment parses a combined fragment file. A file without metadata
// counts as zero sources, metadata without source_count as one. Entities
// and relations that do not decode are logged and skipped.
func DecodeFragment(raw []byte) (common.Fragment, error) {
	var ff fragmentFile
	if err := json.Unmarshal(raw, &ff); err != nil {
		return common.Fragment{}, err
	}

	f := common.Fragment{
		Entities:  decodeEntities(ff.Entities),
		Relations: decodeRelations(ff.Relations),
	}
	f.Metadata.Sources = []common.Metadata{}
	if isPresent(ff.Metadata) {
		f.Metadata.SourceCount = 1
		var md fragmentMetadata
		if err := json.Unmarshal(ff.Metadata, &md); err != nil {
			logger.Warn("[Store] Ignoring malformed metadata", "err", err)
		} else {
			if md.SourceCount != nil {
				f.Metadata.SourceCount = *md.SourceCount
			}
			if md.Sources != nil {
				f.Metadata.Sources = md.Sources
			}
		}
	}
	f.Recount()
	return f, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// decodeEntities reads a type to entity list map item by item.
func decodeEntities(raw json.RawMessage) common.Entities {
	entities := common.Entities{}
	if !isPresent(raw) {
		return entities
	}
	var groups map[string]json.RawMessage
	if err := json.Unmarshal(raw, &groups); err != nil {
		logger.Warn("[Store] Ignoring malformed entities", "err", err)
		return entities
	}
	for t, group := range groups {
		var items []json.RawMessage
		if err := json.Unmarshal(group, &items); err != nil {
			logger.Warn("[Store] Ignoring malformed entity group", "type", t, "err", err)
			continue
		}
		list := make([]common.Entity, 0, len(items))
		for i, item := range items {
			var e common.Entity
			if err := json.Unmarshal(item, &e); err != nil {
				logger.Warn("[Store] Skipping malformed entity", "type", t, "index", i, "err", err)
				continue
			}
			list = append(list, e)
		}
		entities[t] = list
	}
	return entities
}

// decodeRelations reads a relation list item by item.
func decodeRelations(raw json.RawMessage) []common.Relation {
	relations := []common.Relation{}
	if !isPresent(raw) {
		return relations
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("[Store] Ignoring malformed relations", "err", err)
		return relations
	}
	for i, item := range items {
		var r common.Relation
		if err := json.Unmarshal(item, &r); err != nil {
			logger.Warn("[Store] Skipping malformed relation", "index", i, "err", err)
			continue
		}
		relations = append(relations, r)
	}
	return relations
}

func readCombined(path string) (common.Fragment, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return common.Fragment{}, err
	}
	return DecodeFragment(raw)
}

func readPair(entitiesPath, relationsPath string) (common.Fragment, error) {
	raw, err := ReadFile(entitiesPath)
	if err != nil {
		return common.Fragment{}, err
	}
	if !json.Valid(raw) {
		return common.Fragment{}, fmt.Errorf("%s: invalid json", entitiesPath)
	}
	entities := decodeEntities(raw)

	relations := []common.Relation{}
	if relationsPath != "" {
		raw, err := ReadFile(relationsPath)
		if err != nil {
			logger.Warn("[Store] Failed to read relations", "path", relationsPath, "err", err)
		} else {
			relations = decodeRelations(raw)
		}
	}

	f := common.Fragment{
		Entities:  entities,
		Relations: relations,
		Metadata:  common.FragmentMetadata{Sources: []common.Metadata{}},
	}
	f.Recount()
	return f, nil
}

// SaveFragment writes fragment as indented UTF-8 JSON.
func SaveFragment(path string, fragment common.Fragment) error {
	return export.WriteJSON(path, fragment)
}

// FileStorage keeps graphs as <Dir>/<graphID>.json.
type FileStorage struct {
	Dir string
}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{Dir: dir}
}

func (s *FileStorage) path(graphID string) string {
	return filepath.Join(s.Dir, graphID+".json")
}

// SaveGraph writes fragment, replacing an existing file.
func (s *FileStorage) SaveGraph(ctx context.Context, graphID string, fragment common.Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return SaveFragment(s.path(graphID), fragment)
}

func (s *FileStorage) DeleteGraph(ctx context.Context, graphID string) error {
	err := os.Remove(s.path(graphID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStorage) Close(ctx context.Context) error {
	return nil
}
