package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jsonOutput reports whether structured output was requested.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// printResult writes v as indented JSON, or the results of the --jq filter
// when one is given, to the app's writer.
func printResult(c *cli.Context, v interface{}) error {
	return writeResult(c.App.Writer, v, c.String("jq"))
}

func writeResult(w io.Writer, v interface{}, filter string) error {
	if filter == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	code, err := compileJQ(filter)
	if err != nil {
		return err
	}

	// gojq works on plain JSON values, not Go structs.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("failed to prepare jq input: %w", err)
	}

	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		if s, isString := out.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		line, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(line))
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// cliLogger only reports errors, to stderr.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// formatOptional renders an optional string for table output.
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
