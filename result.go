package openapitools

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format selects how tools and results are rendered.
type Format string

const (
	FormatTable    Format = "table"    // Aligned columns, one tool per row
	FormatJSON     Format = "json"     // Indented JSON
	FormatYAML     Format = "yaml"     // YAML
	FormatMarkdown Format = "markdown" // Markdown catalog
)

// ParseFormat accepts a format name in any letter case; "" means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (supported: table, json, yaml, markdown)", s)
	}
}

// CallResult is the outcome of one tool call as printed by the CLI.
type CallResult struct {
	Tool   string      `json:"tool" yaml:"tool"`
	Result interface{} `json:"result" yaml:"result"`
	Error  string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// ToJSON converts the CallResult to an indented JSON string
func (r *CallResult) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal call result: %w", err)
	}
	return string(data), nil
}

// ToYAML converts the CallResult to a YAML string
func (r *CallResult) ToYAML() (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call result: %w", err)
	}
	return string(data), nil
}

// WriteResult renders a call result. Table and markdown fall back to JSON.
func WriteResult(w io.Writer, r *CallResult, format Format) error {
	var (
		out string
		err error
	)
	if format == FormatYAML {
		out, err = r.ToYAML()
	} else {
		out, err = r.ToJSON()
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	return err
}

// WriteTools renders a tool list.
func WriteTools(w io.Writer, tools []Tool, format Format) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal tools: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case FormatYAML:
		data, err := yaml.Marshal(tools)
		if err != nil {
			return fmt.Errorf("failed to marshal tools: %w", err)
		}
		_, err = w.Write(data)
		return err

	case FormatMarkdown:
		out, err := RenderCatalog(tools)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err

	default:
		return writeToolTable(w, tools)
	}
}

func writeToolTable(w io.Writer, tools []Tool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", tool.Name, parameterSummary(tool.InputSchema), firstLine(tool.Description))
	}
	return tw.Flush()
}

// parameterSummary lists property names, required ones marked with "*".
func parameterSummary(schema map[string]interface{}) string {
	props := extractProperties(schema)
	if len(props) == 0 {
		return "-"
	}
	required := extractRequired(schema)

	names := make([]string, 0, len(props))
	for name := range props {
		if containsString(required, name) {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 80)
}
