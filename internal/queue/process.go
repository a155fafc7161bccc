package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/graph"
	"github.com/biomedkg/kgx/pkg/loader"
	s3loader "github.com/biomedkg/kgx/pkg/loader/s3"
	"github.com/biomedkg/kgx/pkg/logger"

	"github.com/go-playground/validator"
)

// ProcessMessage is the body of a process_queue message.
type ProcessMessage struct {
	File      string `json:"file" validate:"required"`
	OutputDir string `json:"output_dir"`
	Format    string `json:"format" validate:"omitempty,oneof=json csv rdf"`
}

// Uploader publishes a finished output directory.
type Uploader interface {
	UploadDir(ctx context.Context, dir string, keyPrefix string) ([]string, error)
}

// Processor runs the document pipeline for queue messages.
type Processor struct {
	Client *graph.GraphClient
	// LocalLoader serves plain paths, RemoteLoader serves s3:// references.
	LocalLoader  loader.GraphFileLoader
	RemoteLoader loader.GraphFileLoader
	// OutputDir is used when a message names none.
	OutputDir string
	// Uploader is optional.
	Uploader Uploader
}

// ErrInvalidMessage marks message bodies that cannot be decoded or fail
// validation. Retrying them is pointless.
var ErrInvalidMessage = errors.New("invalid message")

var validate = validator.New()

// DecodeMessage parses and validates a message body.
func DecodeMessage(body []byte) (ProcessMessage, error) {
	var msg ProcessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Format == "" {
		msg.Format = export.FormatJSON
	}
	return msg, nil
}

// Handle processes one message body.
func (p *Processor) Handle(ctx context.Context, body []byte) (*graph.FileResult, error) {
	msg, err := DecodeMessage(body)
	if err != nil {
		return nil, err
	}

	fileLoader := p.LocalLoader
	if s3loader.IsURI(msg.File) {
		if p.RemoteLoader == nil {
			return nil, fmt.Errorf("no object storage configured for %s", msg.File)
		}
		fileLoader = p.RemoteLoader
	}
	file := loader.NewGraphFile(loader.NewGraphFileParams{FilePath: msg.File, Loader: fileLoader})
	// each message is handled once, so nothing is gained by keeping its content
	defer loader.Forget(fileLoader, file)

	outputDir := msg.OutputDir
	if outputDir == "" {
		outputDir = p.OutputDir
	}
	dir := graph.DocumentOutputDir(outputDir, msg.File)

	res, err := p.Client.ProcessDocument(ctx, file, dir, msg.Format)
	if err != nil {
		return nil, err
	}
	logger.Info("[Queue] Document processed",
		"file", msg.File,
		"entities", res.Fragment.Metadata.EntityCount,
		"relations", res.Fragment.Metadata.RelationCount,
	)

	if p.Uploader != nil {
		if _, err := p.Uploader.UploadDir(ctx, dir, filepath.Base(dir)); err != nil {
			return res, fmt.Errorf("failed to upload results: %w", err)
		}
	}
	return res, nil
}
