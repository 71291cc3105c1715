// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"fmt"
	"strings"
)

// scriptBuilder assembles an `nft -f` script in the object order nftables
// requires: the table, then its chains, then their rules (no sets,
// counters, flowtables or elements are produced). Adapted from this repo's rule-optimizing
// ScriptBuilder down to exactly what a reconciliation of a small, fixed DNAT
// and masquerade ruleset needs — there is no rule-grouping/optimization pass
// here, since a handful of per-rule NAT statements never benefit from it.
type scriptBuilder struct {
	tableName  string
	family     string
	chains     []string
	rules      map[string][]string
	chainOrder []string
}

func newScriptBuilder(tableName, family string) *scriptBuilder {
	return &scriptBuilder{
		tableName: tableName,
		family:    family,
		rules:     make(map[string][]string),
	}
}

func (sb *scriptBuilder) addTable() string {
	return fmt.Sprintf("add table %s %s", sb.family, quote(sb.tableName))
}

func (sb *scriptBuilder) addChain(name, typeName, hook string, priority int, policy string) {
	cmd := fmt.Sprintf("add chain %s %s %s { type %s hook %s priority %d; policy %s; }",
		sb.family, quote(sb.tableName), quote(name), typeName, hook, priority, policy)
	sb.chains = append(sb.chains, cmd)
	sb.chainOrder = append(sb.chainOrder, name)
}

func (sb *scriptBuilder) addRule(chain, rule, comment string) {
	if comment != "" {
		rule += fmt.Sprintf(" comment %q", comment)
	}
	cmd := fmt.Sprintf("add rule %s %s %s %s", sb.family, quote(sb.tableName), quote(chain), rule)
	sb.rules[chain] = append(sb.rules[chain], cmd)
}

// build assembles the complete script: `add table` (a no-op if it already
// exists) then `flush table` to clear every prior chain and rule, then the
// full create-from-scratch replay. Applying it is always a flush-and-replace
// reconciliation, never a differential update.
func (sb *scriptBuilder) build() string {
	var lines []string
	lines = append(lines, sb.addTable())
	lines = append(lines, fmt.Sprintf("flush table %s %s", sb.family, quote(sb.tableName)))
	lines = append(lines, sb.chains...)
	for _, chain := range sb.chainOrder {
		if rules, ok := sb.rules[chain]; ok {
			lines = append(lines, rules...)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
