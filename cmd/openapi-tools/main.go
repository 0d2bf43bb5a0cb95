// openapi-tools turns OpenAPI documents into callable tools.
//
// Usage:
//
//	openapi-tools tools https://petstore3.swagger.io/api/v3/openapi.json
//	openapi-tools tools --file api.yaml --format markdown
//	openapi-tools call getPetById --file api.yaml --args '{"petId": 1}'
//	openapi-tools validate --file api.yaml
//	openapi-tools serve --config openapi-tools.yaml
//
// Install:
//
//	go install github.com/oriagent/ori-openapitools/cmd/openapi-tools@latest
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	openapitools "github.com/oriagent/ori-openapitools"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	stdout io.Writer
	stderr io.Writer

	logLevel string
	logJSON  bool
}

func (c *cli) logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "openapi-tools",
		Level:      hclog.LevelFromString(c.logLevel),
		JSONFormat: c.logJSON,
		Output:     c.stderr,
	})
}

// sourceFlags selects a document either positionally or with --file.
type sourceFlags struct {
	typ         string
	file        string
	strict      bool
	allowCycles bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.typ, "type", "t", "URL", "source type: URL or BASE64")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the document from a local file")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "validate the document with kin-openapi before converting")
	cmd.Flags().BoolVar(&f.allowCycles, "allow-cycles", false, "replace circular $ref chains with empty objects instead of failing")
}

// resolve returns the source and its type. A --file wins over a positional source.
func (f *sourceFlags) resolve(positional string) (string, openapitools.SourceType, error) {
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", f.file, err)
		}
		return base64.StdEncoding.EncodeToString(data), openapitools.SourceBase64, nil
	}
	if positional == "" {
		return "", "", fmt.Errorf("a source argument or --file is required")
	}
	typ, err := openapitools.ParseSourceType(f.typ)
	if err != nil {
		return "", "", err
	}
	return positional, typ, nil
}

func (f *sourceFlags) options(logger hclog.Logger) []openapitools.Option {
	opts := []openapitools.Option{openapitools.WithLogger(logger)}
	if f.strict {
		opts = append(opts, openapitools.WithStrictValidation())
	}
	if f.allowCycles {
		opts = append(opts, openapitools.WithCyclePolicy(openapitools.CycleEmpty))
	}
	return opts
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "openapi-tools",
		Short: "Turn OpenAPI documents into callable tools.",
		Long: `Convert OpenAPI 3 documents into tools with JSON-schema inputs, call them,
and serve them over gRPC.

  openapi-tools tools <source>          list the tools a document defines
  openapi-tools call <tool> <source>    call one tool
  openapi-tools validate <source>       strictly validate a document
  openapi-tools serve --config <file>   serve configured tools`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&c.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		c.toolsCmd(),
		c.callCmd(),
		c.validateCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) toolsCmd() *cobra.Command {
	var (
		src    sourceFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "tools [source]",
		Short: "List the tools an OpenAPI document defines.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openapitools.ParseFormat(format)
			if err != nil {
				return err
			}
			source, typ, err := src.resolve(firstArg(args))
			if err != nil {
				return err
			}

			conv, err := openapitools.NewConverter(nil, src.options(c.logger())...).Convert(cmd.Context(), source, typ)
			if err != nil {
				return err
			}

			tools := make([]openapitools.Tool, len(conv.Tools))
			for i, t := range conv.Tools {
				tools[i] = t.Tool
			}
			return openapitools.WriteTools(c.stdout, tools, f)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table, json, yaml, markdown")
	return cmd
}

func (c *cli) callCmd() *cobra.Command {
	var (
		src     sourceFlags
		argsRaw string
		format  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <tool> [source]",
		Short: "Call one tool of an OpenAPI document.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openapitools.ParseFormat(format)
			if err != nil {
				return err
			}
			source, typ, err := src.resolve(secondArg(args))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			conv, err := openapitools.NewConverter(nil, src.options(c.logger())...).Convert(ctx, source, typ)
			if err != nil {
				return err
			}

			name := args[0]
			for _, tool := range conv.Tools {
				if tool.Name != name {
					continue
				}
				out, err := tool.Call(ctx, argsRaw)
				result := &openapitools.CallResult{Tool: name}
				if err != nil {
					result.Error = err.Error()
					_ = openapitools.WriteResult(c.stdout, result, f)
					return err
				}
				result.Result = rawJSON(out)
				return openapitools.WriteResult(c.stdout, result, f)
			}
			return fmt.Errorf("%w: %s", openapitools.ErrToolNotFound, name)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&argsRaw, "args", "a", "{}", "tool arguments as a JSON object")
	cmd.Flags().StringVarP(&format, "format", "o", "json", "output format: json or yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout for the call, 0 for none")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "validate [source]",
		Short: "Strictly validate an OpenAPI document.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, typ, err := src.resolve(firstArg(args))
			if err != nil {
				return err
			}

			src.strict = true
			doc, err := openapitools.NewLoader(src.options(c.logger())...).Load(cmd.Context(), source, typ)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "ok: %q openapi %s, %d operations\n", doc.Title(), doc.Version(), len(doc.Operations()))
			return nil
		},
	}
	src.register(cmd)
	return cmd
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func secondArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

// rawJSON keeps an already encoded result from being re-quoted as a string.
func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}
