package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter"
	"github.com/arbiterhq/arbiter/internal/cli"
	"github.com/arbiterhq/arbiter/pkg/schema"
	"github.com/arbiterhq/arbiter/pkg/sqlfilter"
)

var (
	explainSchema string
	explainPolicy string
	explainActor  string
	explainAction string
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the SQL a policy compiles to",
	Long: `Compile policy actions for a given actor and print the resulting SQL
predicates with their bound parameters.`,
	Example: `  # Explain every action for an actor
  arbiter explain --actor '{"id": "u1"}'

  # Explain one action
  arbiter explain --actor '{"id": "u1"}' --action read`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(explainSchema, cfg.Explain.Schema, cfg.Schema)
		policyPath := resolveString(explainPolicy, cfg.Explain.Policy, cfg.Policy)

		s, err := schema.Load(schemaPath)
		if err != nil {
			return cli.SchemaParseError("loading schema", err)
		}
		doc, err := schema.LoadPolicy(policyPath)
		if err != nil {
			return cli.SchemaParseError("loading policy", err)
		}

		actor := arbiter.Actor{}
		if explainActor != "" {
			if err := json.Unmarshal([]byte(explainActor), &actor); err != nil {
				return cli.ConfigError("parsing --actor JSON", err)
			}
		}

		policy, err := doc.Build(actor)
		if err != nil {
			return cli.SchemaParseError("building policy", err)
		}

		tables, err := sqlfilter.Mapping(s.TableColumns())
		if err != nil {
			return cli.SchemaParseError("building table mapping", err)
		}
		related, err := sqlfilter.Mapping(s.RelatedColumns())
		if err != nil {
			return cli.SchemaParseError("building related mapping", err)
		}
		env := arbiter.CompileEnv{
			Actor:   actor,
			Tables:  tables,
			Related: related,
			Dialect: sqlfilter.NewDialect(),
		}

		actions := policy.Actions()
		if explainAction != "" {
			actions = []string{explainAction}
		}

		fmt.Printf("subject: %s\n", policy.Subject())
		for _, action := range actions {
			rule, err := policy.Action(action)
			if err != nil {
				return cli.GeneralError("looking up action", err)
			}
			pred, err := arbiter.Compile(rule, env)
			if err != nil {
				return cli.GeneralError(fmt.Sprintf("compiling action %q", action), err)
			}
			sql, params := pred.(sqlfilter.Fragment).Render(sqlfilter.Dollar)

			fmt.Printf("\n%s:\n  %s\n", action, sql)
			for i, p := range params {
				fmt.Printf("  $%d = %v\n", i+1, p)
			}
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainSchema, "schema", "", "path to schema.yaml file")
	explainCmd.Flags().StringVar(&explainPolicy, "policy", "", "path to policy.yaml file")
	explainCmd.Flags().StringVar(&explainActor, "actor", "", "actor as a JSON object")
	explainCmd.Flags().StringVar(&explainAction, "action", "", "explain a single action")
}
