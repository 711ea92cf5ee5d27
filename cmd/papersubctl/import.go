package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"papersub/internal/config"
	"papersub/internal/logger"
	"papersub/internal/messages"
	"papersub/internal/paper"
)

type errRejected struct {
	count int
}

func (e errRejected) Error() string {
	if e.count == 1 {
		return "1 submission not saved"
	}
	return fmt.Sprintf("%d submissions not saved", e.count)
}

// saver is the part of paper.Service the importer drives.
type saver interface {
	Save(ctx context.Context, actor paper.Actor, paperID int64, raw []byte) (*paper.Result, error)
}

func newImportCmd() *cobra.Command {
	var actorEmail string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Save every submission in a JSON file (object or array); - reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()

			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			docs, err := splitDocuments(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.close()

			actor := paper.Actor{Email: strings.ToLower(actorEmail), Admin: true}
			return importDocuments(ctx, b.papers, actor, args[0], docs, cmd.OutOrStdout(), quiet)
		},
	}
	cmd.Flags().StringVar(&actorEmail, "as", "admin@localhost", "email recorded as the acting administrator")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print problems")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return raw, nil
}

// splitDocuments returns the submissions of a file holding one JSON object
// or an array of them.
func splitDocuments(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty input")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, fmt.Errorf("parse submission list: %w", err)
	}
	return docs, nil
}

func importDocuments(ctx context.Context, papers saver, actor paper.Actor, source string, docs []json.RawMessage, out io.Writer, quiet bool) error {
	rejected := 0
	for i, doc := range docs {
		label := fmt.Sprintf("%s[%d]", source, i)
		if len(docs) == 1 {
			label = source
		}
		result, err := papers.Save(ctx, actor, 0, doc)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if result.PaperID > 0 {
			label += fmt.Sprintf(" #%d", result.PaperID)
		}
		printMessages(out, label, result.Messages)
		if !result.Saved {
			rejected++
			fmt.Fprintf(out, "%s: not saved\n", label)
			continue
		}
		if !quiet {
			switch {
			case result.Created:
				fmt.Fprintf(out, "%s: created\n", label)
			case len(result.Diffs) > 0:
				fmt.Fprintf(out, "%s: saved (%s)\n", label, strings.Join(result.Diffs, ", "))
			default:
				fmt.Fprintf(out, "%s: unchanged\n", label)
			}
		}
	}
	if rejected > 0 {
		return errRejected{count: rejected}
	}
	return nil
}

func printMessages(out io.Writer, label string, msgs *messages.Set) {
	if msgs == nil {
		return
	}
	for _, m := range msgs.Messages() {
		if m.Field != "" {
			fmt.Fprintf(out, "%s: %s: %s: %s\n", label, m.Severity, m.Field, m.Text)
		} else {
			fmt.Fprintf(out, "%s: %s: %s\n", label, m.Severity, m.Text)
		}
	}
}
