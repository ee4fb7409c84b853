package kernel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// MaxCommentLen is the longest comment nft accepts.
const MaxCommentLen = 128

var (
	nameRegex         = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	echoedHandleRegex = regexp.MustCompile(`(?m)^add rule .*# handle ([0-9]+)\s*$`)
)

// ValidateRequest rejects requests that cannot be passed to the kernel
// safely. The statement itself is not parsed; only characters that would
// split it into further batch commands are refused.
func ValidateRequest(req AddRequest) error {
	if err := ValidateContext(req.Context()); err != nil {
		return err
	}
	stmt := strings.TrimSpace(req.Statement)
	if stmt == "" {
		return fieldError("statement", "statement is required")
	}
	if strings.ContainsAny(stmt, "\n\r;") {
		return fieldError("statement", "statement must be a single rule without newlines or ';'")
	}
	if strings.ContainsAny(req.Comment, "\n\r;\"") {
		return fieldError("comment", "comment must not contain quotes, newlines or ';'")
	}
	if len(req.Comment) > MaxCommentLen {
		return fieldError("comment", fmt.Sprintf("comment exceeds %d characters", MaxCommentLen))
	}
	return nil
}

// ValidateContext checks a (family, table, chain) triple.
func ValidateContext(c ruleset.Context) error {
	if c.Family == "" {
		return fieldError("family", "family is required")
	}
	if !ruleset.IsAuthoringFamily(c.Family) {
		return fieldError("family", fmt.Sprintf("unsupported family %q (want one of %s)", c.Family, strings.Join(ruleset.Families, ", ")))
	}
	if c.Table == "" {
		return fieldError("table", "table is required")
	}
	if !nameRegex.MatchString(c.Table) {
		return fieldError("table", fmt.Sprintf("invalid table name %q", c.Table))
	}
	if c.Chain == "" {
		return fieldError("chain", "chain is required")
	}
	if !nameRegex.MatchString(c.Chain) {
		return fieldError("chain", fmt.Sprintf("invalid chain name %q", c.Chain))
	}
	return nil
}

// ValidateRef checks a delete target.
func ValidateRef(ref ruleset.RuleRef) error {
	if err := ValidateContext(ruleset.Context{Family: ref.Family, Table: ref.Table, Chain: ref.Chain}); err != nil {
		return err
	}
	if ref.Handle == 0 {
		return fieldError("handle", "handle is required")
	}
	return nil
}

func fieldError(field, msg string) error {
	return errors.Attr(errors.New(errors.KindValidation, msg), "field", field)
}

// addCommand renders an add request as one batch line.
func addCommand(req AddRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "add rule %s %s %s %s", req.Family, req.Table, req.Chain, strings.TrimSpace(req.Statement))
	if req.Comment != "" {
		sb.WriteString(` comment "`)
		sb.WriteString(req.Comment)
		sb.WriteString(`"`)
	}
	return sb.String()
}

// deleteCommand renders a delete as one batch line.
func deleteCommand(ref ruleset.RuleRef) string {
	return fmt.Sprintf("delete rule %s %s %s handle %d", ref.Family, ref.Table, ref.Chain, ref.Handle)
}

// BuildAddScript returns a batch that appends one rule.
func BuildAddScript(req AddRequest) string {
	return addCommand(req) + "\n"
}

// BuildReplaceScript returns a batch that deletes old and adds req. nft
// applies a batch file as one transaction.
func BuildReplaceScript(old ruleset.RuleRef, req AddRequest) string {
	return deleteCommand(old) + "\n" + addCommand(req) + "\n"
}

// parseEchoedHandle extracts the handle nft assigned from `nft -e -a` output.
func parseEchoedHandle(out []byte) (uint64, bool) {
	matches := echoedHandleRegex.FindAllSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	h, err := strconv.ParseUint(string(last[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return h, true
}
