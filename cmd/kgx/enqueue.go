package main

import (
	"encoding/json"
	"fmt"

	"github.com/biomedkg/kgx/internal/queue"
	s3loader "github.com/biomedkg/kgx/pkg/loader/s3"

	"github.com/spf13/cobra"
)

type enqueueOptions struct {
	outputDir string
	format    string
	pattern   string
}

func newEnqueueCmd(a *app) *cobra.Command {
	opts := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue <file|dir|glob>...",
		Short: "Publish process messages for the worker",
		Long: `Publish one message per input file to the worker queue. Arguments are
s3:// references, directories (expanded with --pattern) or globs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, a, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outputDir, "output", "o", "", "output directory used by the worker")
	f.StringVarP(&opts.format, "format", "f", "json", "output format: json, csv or rdf")
	f.StringVarP(&opts.pattern, "pattern", "p", defaultPattern, "file pattern used when an argument is a directory")
	return cmd
}

// enqueueMessages expands args into queue message bodies.
func enqueueMessages(args []string, opts *enqueueOptions) ([][]byte, error) {
	var bodies [][]byte
	for _, arg := range args {
		files := []string{arg}
		if !s3loader.IsURI(arg) {
			var err error
			if files, err = resolveInputs(arg, opts.pattern); err != nil {
				return nil, err
			}
		}
		for _, file := range files {
			body, err := json.Marshal(queue.ProcessMessage{File: file, OutputDir: opts.outputDir, Format: opts.format})
			if err != nil {
				return nil, err
			}
			bodies = append(bodies, body)
		}
	}
	return bodies, nil
}

func runEnqueue(cmd *cobra.Command, a *app, opts *enqueueOptions, args []string) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	bodies, err := enqueueMessages(args, opts)
	if err != nil {
		return err
	}

	conn, err := queue.Init(a.cfg.AMQP.URL())
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	queueName := a.cfg.AMQP.Queue
	if err := queue.SetupQueues(ch, []string{queueName}); err != nil {
		return err
	}
	for _, body := range bodies {
		if err := queue.PublishFIFO(cmd.Context(), ch, queueName, body); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d files to %s\n", len(bodies), queueName)
	return nil
}
