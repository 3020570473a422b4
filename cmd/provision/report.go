package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"crudbooks/model"
	"crudbooks/provision"
)

func printPlan(w io.Writer, plan model.Plan) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TARGET\tDECLARATION\n")
	fmt.Fprintf(tw, "database\tname = %s\n", plan.Database)
	for _, c := range plan.Collections {
		fmt.Fprintf(tw, "collection\t%s\n", c.Name)
	}
	for _, idx := range plan.Indexes {
		fmt.Fprintf(tw, "index\t%s\n", idx)
	}
	roles := make([]string, 0, len(plan.Principal.Roles))
	for _, r := range plan.Principal.Roles {
		roles = append(roles, r.String())
	}
	fmt.Fprintf(tw, "principal\tuser = %s, roles = %s\n", plan.Principal.User, strings.Join(roles, ", "))
	_ = tw.Flush()
}

func printResult(w io.Writer, res *provision.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STEP\tTARGET\tOUTCOME\n")
	for _, s := range res.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Kind, s.Target, s.Outcome)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s: %d created, %d existing, %d failed, %d skipped\n",
		res.Database,
		res.Count(model.Created),
		res.Count(model.Existing),
		res.Count(model.Failed),
		res.Count(model.Skipped),
	)
}

func printReport(w io.Writer, rep *provision.Report) {
	if rep.OK() {
		fmt.Fprintf(w, "%s: all declarations present\n", rep.Database)
	}
	for _, f := range rep.Missing {
		fmt.Fprintf(w, "missing: %s\n", f)
	}
	if len(rep.Unexpected) > 0 {
		fmt.Fprintf(w, "undeclared collections: %s\n", strings.Join(rep.Unexpected, ", "))
	}
}

func printRuns(w io.Writer, runs []model.ProvisionRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSTARTED\tDATABASE\tVARIANT\tSTATUS\n")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Database, r.Variant, r.Status)
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, run *model.ProvisionRun, logs []model.AuditLog) {
	fmt.Fprintf(w, "run %d on %s (%s): %s\n", run.ID, run.Database, run.Variant, run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STEP\tTARGET\tOUTCOME\tMESSAGE\n")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Kind, l.Target, l.Outcome, l.Message)
	}
	_ = tw.Flush()
}
