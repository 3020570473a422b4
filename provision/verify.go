package provision

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"crudbooks/model"
)

// Finding is a declaration that is absent or differs on the server.
type Finding struct {
	Kind    model.StepKind
	Target  string
	Problem string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Target, f.Problem)
}

// Report is the result of Verify.
type Report struct {
	Database string
	Missing  []Finding
	// Unexpected lists collections present on the server but not declared.
	Unexpected []string
}

// OK returns true when every declaration is satisfied.
func (r *Report) OK() bool {
	return len(r.Missing) == 0
}

// Verify compares the state reported by the inspector with plan.
func Verify(ctx context.Context, in Inspector, plan model.Plan) (*Report, error) {
	rep := &Report{Database: plan.Database}

	names, err := in.CollectionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: listing collections of %s: %w", plan.Database, err)
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	declared := make(map[string]bool, len(plan.Collections))
	for _, c := range plan.Collections {
		declared[c.Name] = true
		if !present[c.Name] {
			rep.Missing = append(rep.Missing, Finding{Kind: model.CollectionStep, Target: c.Name, Problem: "missing"})
		}
	}
	for _, n := range names {
		if !declared[n] && !strings.HasPrefix(n, "system.") {
			rep.Unexpected = append(rep.Unexpected, n)
		}
	}
	slices.Sort(rep.Unexpected)

	byCollection := make(map[string][]IndexInfo)
	for _, idx := range plan.Indexes {
		infos, ok := byCollection[idx.Collection]
		if !ok {
			if present[idx.Collection] {
				infos, err = in.Indexes(ctx, idx.Collection)
				if err != nil {
					return nil, fmt.Errorf("verify: listing indexes of %s: %w", idx.Collection, err)
				}
			}
			byCollection[idx.Collection] = infos
		}
		if f, bad := checkIndex(idx, infos); bad {
			rep.Missing = append(rep.Missing, f)
		}
	}

	pr := plan.Principal
	roles, exists, err := in.PrincipalRoles(ctx, pr.User)
	if err != nil {
		return nil, fmt.Errorf("verify: looking up principal %s: %w", pr.User, err)
	}
	target := pr.User + "@" + plan.Database
	if !exists {
		rep.Missing = append(rep.Missing, Finding{Kind: model.PrincipalStep, Target: target, Problem: "missing"})
	} else {
		for _, want := range pr.Roles {
			if !slices.Contains(roles, want) {
				rep.Missing = append(rep.Missing, Finding{
					Kind:    model.PrincipalStep,
					Target:  target,
					Problem: "role " + want.String() + " not granted",
				})
			}
		}
	}

	return rep, nil
}

func checkIndex(idx model.IndexDecl, infos []IndexInfo) (Finding, bool) {
	target := idx.Collection + "." + idx.Name()
	for _, info := range infos {
		if !matchesKey(idx, info) {
			continue
		}
		if idx.Unique && !info.Unique {
			return Finding{Kind: model.IndexStep, Target: target, Problem: "present as " + info.Name + " but not unique"}, true
		}
		return Finding{}, false
	}
	return Finding{Kind: model.IndexStep, Target: target, Problem: "missing"}, true
}

func matchesKey(idx model.IndexDecl, info IndexInfo) bool {
	if idx.Kind == model.TextIndex {
		return info.Text && slices.Contains(info.Fields, idx.Field)
	}
	return !info.Text && len(info.Fields) == 1 && info.Fields[0] == idx.Field
}
