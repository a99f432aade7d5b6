package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter"
	"github.com/arbiterhq/arbiter/internal/cli"
	"github.com/arbiterhq/arbiter/pkg/schema"
	"github.com/arbiterhq/arbiter/pkg/sqlfilter"
)

var (
	validateSchema string
	validatePolicy string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate schema and policy files",
	Long: `Validate the table schema and, if present, the policy file.

Policy rules are compiled against the declared tables, so undeclared
references and uncorrelated subqueries fail here rather than at runtime.`,
	Example: `  # Validate a specific schema file
  arbiter validate --schema arbiter/schema.yaml

  # Validate schema and policy together
  arbiter validate --schema arbiter/schema.yaml --policy arbiter/policy.yaml

  # Validate using config file settings
  arbiter validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(validateSchema, cfg.Schema)

		if _, err := os.Stat(schemaPath); err != nil {
			return cli.SchemaParseError(fmt.Sprintf("schema not found: %s", schemaPath), nil)
		}

		s, err := schema.Load(schemaPath)
		if err != nil {
			return cli.SchemaParseError("loading schema", err)
		}

		if !quiet {
			fmt.Printf("Schema is valid. Found %d tables:\n", len(s.Tables)+len(s.Related))
			for _, t := range append(append([]schema.Table(nil), s.Tables...), s.Related...) {
				fmt.Printf("  - %s (%d columns)\n", t.Name, len(t.Columns))
			}
		}

		policyPath := cfg.ResolvedPolicy(validatePolicy)
		if _, err := os.Stat(policyPath); err != nil {
			if validatePolicy != "" {
				return cli.SchemaParseError(fmt.Sprintf("policy not found: %s", policyPath), nil)
			}
			return nil // policy file is optional when not named explicitly
		}

		doc, err := schema.LoadPolicy(policyPath)
		if err != nil {
			return cli.SchemaParseError("loading policy", err)
		}
		if err := compilePolicy(doc, s); err != nil {
			return cli.SchemaParseError("compiling policy", err)
		}

		if !quiet {
			fmt.Printf("Policy is valid. Subject %q defines %d actions.\n",
				doc.Subject, len(doc.Actions))
		}
		return nil
	},
}

// compilePolicy builds the policy with a probe actor and compiles every
// action against the declared tables.
func compilePolicy(doc *schema.PolicyDoc, s *schema.Schema) error {
	tables, err := sqlfilter.Mapping(s.TableColumns())
	if err != nil {
		return err
	}
	related, err := sqlfilter.Mapping(s.RelatedColumns())
	if err != nil {
		return err
	}

	policy, err := doc.Build(probeActor(doc))
	if err != nil {
		return err
	}

	env := arbiter.CompileEnv{
		Actor:   probeActor(doc),
		Tables:  tables,
		Related: related,
		Dialect: sqlfilter.NewDialect(),
	}
	for _, action := range policy.Actions() {
		rule, err := policy.Action(action)
		if err != nil {
			return err
		}
		if _, err := arbiter.Compile(rule, env); err != nil {
			return fmt.Errorf("action %q: %w", action, err)
		}
	}
	return nil
}

// probeActor supplies placeholder values for every actor field the policy
// references, so validation does not depend on a real principal.
func probeActor(doc *schema.PolicyDoc) arbiter.Actor {
	actor := arbiter.Actor{}
	for _, field := range doc.ActorFields() {
		actor[field] = "probe"
	}
	return actor
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "path to schema.yaml file")
	validateCmd.Flags().StringVar(&validatePolicy, "policy", "", "path to policy.yaml file")
}
