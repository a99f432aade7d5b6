package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/cli"
	"github.com/arbiterhq/arbiter/pkg/schema"
)

var (
	generateSchema  string
	generateOutput  string
	generatePackage string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate typed path builders from a schema",
	Long: `Generate Go code with typed path builders for every declared table,
so rules reference columns through methods instead of string literals.`,
	Example: `  # Generate into internal/authz/paths.go
  arbiter generate --schema arbiter/schema.yaml --output internal/authz/paths.go --package authz

  # Generate using config file settings
  arbiter generate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(generateSchema, cfg.Generate.Schema, cfg.Schema)
		output := resolveString(generateOutput, cfg.Generate.Output)
		pkg := resolveString(generatePackage, cfg.Generate.Package)

		if output == "" {
			return cli.ConfigError("generate requires an output path (--output or generate.output)", nil)
		}

		s, err := schema.Load(schemaPath)
		if err != nil {
			return cli.SchemaParseError("loading schema", err)
		}

		src, err := schema.GenerateGo(pkg, s)
		if err != nil {
			return cli.GeneralError("generating path builders", err)
		}

		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return cli.GeneralError("creating output directory", err)
		}
		if err := os.WriteFile(output, src, 0o644); err != nil {
			return cli.GeneralError("writing output", err)
		}

		if !quiet {
			fmt.Printf("Generated %s from %s\n", output, schemaPath)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateSchema, "schema", "", "path to schema.yaml file")
	generateCmd.Flags().StringVar(&generateOutput, "output", "", "output file for generated code")
	generateCmd.Flags().StringVar(&generatePackage, "package", "", "package name for generated code")
}
