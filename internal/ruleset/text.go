package ruleset

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	tableLineRegex = regexp.MustCompile(`^table (\S+) (\S+) \{`)
	chainLineRegex = regexp.MustCompile(`^chain (\S+) \{`)
	chainPropRegex = regexp.MustCompile(`^type (\S+) hook (\S+)(?: device \S+)? priority ([^;]+);(?: policy (\S+);)?`)
	ruleLineRegex  = regexp.MustCompile(`^(.+?)\s+# handle ([0-9]+)$`)
	handleRegex    = regexp.MustCompile(`# handle ([0-9]+)`)
	commentRegex   = regexp.MustCompile(`comment "((?:[^"\\]|\\.)*)"`)
)

// Well-known chain priority names, as printed by nft.
var priorityNames = map[string]int{
	"raw":      -300,
	"mangle":   -150,
	"dstnat":   -100,
	"filter":   0,
	"security": 50,
	"srcnat":   100,
}

// ParseText parses `nft -a list ruleset` output. Rules are kept as plain text;
// set, map and other nested blocks are skipped.
func ParseText(listing string) (*Ruleset, error) {
	rs := &Ruleset{}

	var (
		table *Table
		chain *Chain
		skip  int // depth inside a skipped block
	)

	scanner := bufio.NewScanner(strings.NewReader(listing))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if skip > 0 {
			skip += strings.Count(line, "{") - strings.Count(line, "}")
			continue
		}

		switch {
		case table == nil:
			m := tableLineRegex.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("line %d: expected table, got %q", lineNo, line)
			}
			table = rs.ensureTable(m[1], m[2])
			table.Handle = trailingHandle(line)

		case chain == nil:
			if line == "}" {
				table = nil
				continue
			}
			if m := chainLineRegex.FindStringSubmatch(line); m != nil {
				chain = rs.EnsureChain(table.Family, table.Name, m[1])
				chain.Handle = trailingHandle(line)
				continue
			}
			if strings.HasSuffix(line, "{") || strings.Contains(line, "{ #") {
				skip = 1
				continue
			}
			// flags, comments and other single-line table attributes

		default:
			if line == "}" {
				chain = nil
				continue
			}
			if m := chainPropRegex.FindStringSubmatch(line); m != nil && len(chain.Rules) == 0 {
				chain.Type = m[1]
				chain.Hook = m[2]
				if prio, ok := parsePriority(m[3]); ok {
					chain.Priority = &prio
				}
				chain.Policy = m[4]
				continue
			}
			m := ruleLineRegex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			handle, err := strconv.ParseUint(m[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad handle %q", lineNo, m[2])
			}
			body := m[1]
			r := &Rule{
				Family: table.Family,
				Table:  table.Name,
				Chain:  chain.Name,
				Handle: handle,
				Raw:    body,
			}
			if cm := commentRegex.FindStringSubmatch(body); cm != nil {
				r.Comment = strings.ReplaceAll(cm[1], `\"`, `"`)
			}
			chain.Rules = append(chain.Rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}
	if table != nil {
		return nil, fmt.Errorf("unterminated table %s %s", table.Family, table.Name)
	}
	return rs, nil
}

func trailingHandle(line string) uint64 {
	m := handleRegex.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	h, _ := strconv.ParseUint(m[1], 10, 64)
	return h
}

// parsePriority accepts "0", "-150", "filter", "filter + 10", "dstnat - 5".
func parsePriority(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	base, err := strconv.Atoi(fields[0])
	if err != nil {
		named, ok := priorityNames[fields[0]]
		if !ok {
			return 0, false
		}
		base = named
	}
	if len(fields) == 3 {
		off, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, false
		}
		switch fields[1] {
		case "+":
			base += off
		case "-":
			base -= off
		}
	}
	return base, true
}
