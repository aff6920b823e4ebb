package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakhrymubarak/api-template/internal/app"
	"github.com/fakhrymubarak/api-template/internal/config"
)

func newOpenAPICmd(configDir *string) *cobra.Command {
	var output string

	openapiCmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := renderDocument(configPaths(*configDir))
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			}
			if err := os.WriteFile(output, doc, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			return nil
		},
	}
	openapiCmd.Flags().StringVarP(&output, "output", "o", "", "write the document to this file instead of stdout")
	return openapiCmd
}

func renderDocument(searchPaths []string) ([]byte, error) {
	cfg, err := config.Load(searchPaths...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Tracing.Exporter = "none"

	b := app.NewBuilder(cfg, nil)
	b.TraceOutput = io.Discard
	a, err := b.AddRequiredServices().Build()
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close(context.Background()) }()

	var out bytes.Buffer
	if err := json.Indent(&out, a.DocumentJSON(), "", "  "); err != nil {
		return nil, fmt.Errorf("formatting document: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
