package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/adgraph/internal/app"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/schema"
)

type schemaOptions struct {
	Keyspace string
	Name     string
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply, plan or describe schema modules on a keyspace",
	}
	cmd.AddCommand(newSchemaApplyCmd(), newSchemaPlanCmd(), newSchemaDescribeCmd())
	return cmd
}

func schemaFlags(cmd *cobra.Command, opts *schemaOptions, withName bool) {
	cmd.Flags().StringVarP(&opts.Keyspace, "keyspace", "k", "", "graph keyspace")
	_ = cmd.MarkFlagRequired("keyspace")
	if withName {
		cmd.Flags().StringVarP(&opts.Name, "name", "n", schema.SetBase, "module set ("+strings.Join(schema.SetNames(), "|")+")")
	}
}

func newSchemaApplyCmd() *cobra.Command {
	opts := &schemaOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a module set; existing definitions are left untouched",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), getConfig(cmd), app.Needs{Graph: true})
			if err != nil {
				return commandError(err)
			}
			defer a.Close()
			s, err := a.Session(cmd.Context(), opts.Keyspace)
			if err != nil {
				return commandError(err)
			}
			defer s.Close(cmd.Context())

			created, err := a.Registry.Apply(cmd.Context(), s, opts.Name)
			for _, c := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: entities=%v relations=%v attributes=%v roles=%v rules=%v\n",
					c.Module, c.Entities, c.Relations, c.Attributes, c.Roles, c.Rules)
			}
			return commandError(err)
		},
	}
	schemaFlags(cmd, opts, true)
	return cmd
}

func newSchemaPlanCmd() *cobra.Command {
	opts := &schemaOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), getConfig(cmd), app.Needs{Graph: true})
			if err != nil {
				return commandError(err)
			}
			defer a.Close()
			s, err := a.Session(cmd.Context(), opts.Keyspace)
			if err != nil {
				return commandError(err)
			}
			defer s.Close(cmd.Context())

			changes, err := a.Registry.Plan(cmd.Context(), s, opts.Name)
			if err != nil {
				return commandError(err)
			}
			writePlan(cmd.OutOrStdout(), changes)
			for _, c := range changes {
				if c.Action == schema.ActionConflict {
					return &ExitCoder{Code: ExitError, Err: fmt.Errorf("plan has conflicts")}
				}
			}
			return nil
		},
	}
	schemaFlags(cmd, opts, true)
	return cmd
}

func newSchemaDescribeCmd() *cobra.Command {
	opts := &schemaOptions{}
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print every type defined in a keyspace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), getConfig(cmd), app.Needs{Graph: true})
			if err != nil {
				return commandError(err)
			}
			defer a.Close()
			s, err := a.Session(cmd.Context(), opts.Keyspace)
			if err != nil {
				return commandError(err)
			}
			defer s.Close(cmd.Context())

			defs, err := a.Registry.Describe(cmd.Context(), s)
			if err != nil {
				return commandError(err)
			}
			writeDescribe(cmd.OutOrStdout(), defs)
			return nil
		},
	}
	schemaFlags(cmd, opts, false)
	return cmd
}

func writePlan(w io.Writer, changes []schema.Change) {
	for _, c := range changes {
		line := fmt.Sprintf("%-9s %-8s %-9s %s", c.Module, c.Action, c.Def.Kind, c.Def.Label)
		if c.Detail != "" {
			line += "  # " + c.Detail
		}
		fmt.Fprintln(w, line)
	}
}

func writeDescribe(w io.Writer, defs []graphstore.TypeDef) {
	for _, d := range defs {
		head := fmt.Sprintf("%s %s", d.Kind, d.Label)
		if d.Sup != "" {
			head += " sub " + d.Sup
		}
		if d.DataType != "" {
			head += " datatype " + string(d.DataType)
		}
		if d.Abstract {
			head += " abstract"
		}
		fmt.Fprintln(w, head)
		if d.Key != "" {
			fmt.Fprintf(w, "  key %s\n", d.Key)
		}
		if len(d.Owns) > 0 {
			fmt.Fprintf(w, "  owns %s\n", strings.Join(d.Owns, ", "))
		}
		if len(d.Plays) > 0 {
			fmt.Fprintf(w, "  plays %s\n", strings.Join(d.Plays, ", "))
		}
		if len(d.Relates) > 0 {
			fmt.Fprintf(w, "  relates %s\n", strings.Join(d.Relates, ", "))
		}
		if d.When != "" || d.Then != "" {
			fmt.Fprintf(w, "  when %s\n  then %s\n", d.When, d.Then)
		}
	}
}
