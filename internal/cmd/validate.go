package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/loader"
	"github.com/dagucloud/herd/internal/run"
)

func Validate() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "validate [flags] <plan file>...",
			Short: "Check a plan without running it",
			Long: `Load and merge the plan files, check that every role refers to defined
hosts and scripts, and print what a run would execute.
`,
			Args: cobra.MinimumNArgs(1),
		},
		nil,
		runValidate,
	)
}

func runValidate(ctx *Context, args []string) error {
	plan, err := loader.Load(args...)
	if err != nil {
		return err
	}
	describePlan(ctx.Command.OutOrStdout(), plan)
	return nil
}

func describePlan(w io.Writer, plan *run.Plan) {
	fmt.Fprintf(w, "plan: %s\n", plan.Name)
	fmt.Fprintf(w, "scripts: %s\n", strings.Join(sortedKeys(plan.Scripts), ", "))
	fmt.Fprintln(w, "hosts:")
	for _, alias := range plan.HostAliases() {
		fmt.Fprintf(w, "  %s: %s\n", alias, plan.Hosts[alias])
	}
	fmt.Fprintln(w, renderRoles(plan.Roles))
	if len(plan.Signals) > 0 {
		fmt.Fprintln(w, "signals:")
		for _, name := range sortedKeys(plan.Signals) {
			fmt.Fprintf(w, "  %s: %d\n", name, plan.Signals[name])
		}
	}
	if len(plan.SkipStages) > 0 {
		var skipped []string
		for _, stage := range core.Stages {
			if plan.SkipStages.Has(stage) {
				skipped = append(skipped, stage.String())
			}
		}
		fmt.Fprintf(w, "skip: %s\n", strings.Join(skipped, ", "))
	}
}

var roleHeader = table.Row{"Role", "Hosts", "Setup", "Run", "Cleanup"}

func renderRoles(roles []core.Role) string {
	names := func(refs []core.ScriptRef) string {
		return strings.Join(lo.Map(refs, func(r core.ScriptRef, _ int) string { return r.Name }), ", ")
	}
	roleTable := table.NewWriter()
	roleTable.AppendHeader(roleHeader)
	for _, role := range roles {
		roleTable.AppendRow(table.Row{
			role.Name,
			strings.Join(role.Hosts, ", "),
			names(role.Setup),
			names(role.Run),
			names(role.Cleanup),
		})
	}
	return roleTable.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
