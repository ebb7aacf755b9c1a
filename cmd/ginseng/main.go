// Command ginseng is a thin convenience adapter around the ginseng
// template engine: it loads a template file and a JSON variable file, then
// writes the rendered output to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	ginseng "github.com/arlenforge/ginseng"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		varsPath  string
		autoescape bool
		cacheSize int
	)

	cmd := &cobra.Command{
		Use:   "ginseng <template>",
		Short: "Render a Jinja2-compatible template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return evalFile(cmd.OutOrStdout(), args[0], varsPath, autoescape, cacheSize)
		},
	}

	cmd.Flags().StringVarP(&varsPath, "vars", "v", "", "path to a JSON file of template variables")
	cmd.Flags().BoolVar(&autoescape, "autoescape", false, "enable HTML autoescaping")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 512, "parsed-template LRU capacity (0 disables caching)")

	return cmd
}

// evalFile loads UTF-8 text from path, renders it against the variables in
// varsPath (if any), and writes the result to w.
func evalFile(w io.Writer, path, varsPath string, autoescape bool, cacheSize int) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template %q: %w", path, err)
	}

	vars := map[string]interface{}{}
	if varsPath != "" {
		raw, err := os.ReadFile(varsPath)
		if err != nil {
			return fmt.Errorf("reading vars %q: %w", varsPath, err)
		}
		if err := json.Unmarshal(raw, &vars); err != nil {
			return fmt.Errorf("parsing vars %q: %w", varsPath, err)
		}
	}

	env := ginseng.NewEnvironment(
		ginseng.WithAutoEscape(autoescape),
		ginseng.WithCacheSize(cacheSize),
	)

	output, err := env.RenderString(string(source), ginseng.NewContextFrom(vars))
	if err != nil {
		return fmt.Errorf("rendering %q: %w", path, err)
	}

	_, err = w.Write([]byte(output))
	return err
}
