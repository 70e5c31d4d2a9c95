package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/schema"
	"github.com/kirillkom/docflow/internal/core/usecase"
)

// workflowCheck is the validation result for one workflow in a file.
type workflowCheck struct {
	Slug   string   `json:"slug"`
	Valid  bool     `json:"valid"`
	Fields []string `json:"fields,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// checkWorkflowFile validates every workflow in a YAML file without touching the store.
func checkWorkflowFile(data []byte) ([]domain.Workflow, []workflowCheck, error) {
	workflows, err := usecase.ParseWorkflowsYAML(data)
	if err != nil {
		return nil, nil, err
	}
	checks := make([]workflowCheck, 0, len(workflows))
	for i := range workflows {
		wf := &workflows[i]
		wf.Normalize()
		check := workflowCheck{Slug: wf.Slug, Valid: true}
		if err := wf.Validate(); err != nil {
			check.Valid = false
			check.Errors = append(check.Errors, errors.UnwrapAll(err).Error())
		}
		if wf.SchemaSource != "" {
			result := schema.Validate(wf.SchemaSource)
			check.Fields = result.Fields
			if !result.Valid {
				check.Valid = false
				check.Errors = append(check.Errors, result.Errors...)
			}
		}
		checks = append(checks, check)
	}
	return workflows, checks, nil
}

func printChecks(w io.Writer, checks []workflowCheck) {
	for _, check := range checks {
		if check.Valid {
			fmt.Fprintf(w, "%s: ok (%d fields)\n", check.Slug, len(check.Fields))
			continue
		}
		fmt.Fprintf(w, "%s: invalid\n", check.Slug)
		for _, problem := range check.Errors {
			fmt.Fprintf(w, "  - %s\n", problem)
		}
	}
}

func allValid(checks []workflowCheck) bool {
	for _, check := range checks {
		if !check.Valid {
			return false
		}
	}
	return true
}

func newWorkflowCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage extraction workflows",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workflows by priority",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			workflows, err := app.Registry.List(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), workflows)
			}
			return printWorkflows(cmd.OutOrStdout(), workflows)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow YAML file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			_, checks, err := checkWorkflowFile(data)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				printChecks(cmd.OutOrStdout(), checks)
			}
			if !allValid(checks) {
				return errors.Newf("%s contains invalid workflows", args[0])
			}
			return nil
		},
	}

	applyCmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Create or update the workflows in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			workflows, checks, err := checkWorkflowFile(data)
			if err != nil {
				return err
			}
			if !allValid(checks) {
				printChecks(cmd.ErrOrStderr(), checks)
				return errors.Newf("%s contains invalid workflows", args[0])
			}
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			for _, wf := range workflows {
				_, err := app.Registry.Get(cmd.Context(), wf.Slug)
				switch {
				case err == nil:
					if _, err := app.Registry.Update(cmd.Context(), wf.Slug, wf); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: updated\n", wf.Slug)
				case domain.IsKind(err, domain.ErrWorkflowNotFound):
					if _, err := app.Registry.Create(cmd.Context(), wf); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: created\n", wf.Slug)
				default:
					return err
				}
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a user-defined workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			if err := app.Registry.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, validateCmd, applyCmd, deleteCmd)
	return cmd
}
