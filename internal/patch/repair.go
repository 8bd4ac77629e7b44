package patch

import "strings"

// RepairJSON runs a bounded repair pass over a malformed JSON payload:
// trim to the outermost balanced braces and close unterminated strings,
// arrays, and objects. The pass never invents content beyond closing
// delimiters - it only drops or closes. Returns the repaired text, a
// description of what was done, and whether a repair was produced.
func RepairJSON(payload string) (repaired string, desc string, ok bool) {
	s := strings.TrimSpace(payload)

	// Drop any prose before the first opening brace (LLMs preface JSON).
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", "", false
	}
	dropped := start
	s = s[start:]

	var b strings.Builder
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)

		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				// Unbalanced close; truncate here.
				out := b.String()
				return out[:len(out)-1], "truncated at unbalanced close delimiter", true
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// Outermost object closed; drop any trailing junk.
				actions := []string{}
				if dropped > 0 {
					actions = append(actions, "dropped leading prose")
				}
				if i < len(s)-1 {
					actions = append(actions, "dropped trailing junk")
				}
				if len(actions) == 0 {
					return b.String(), "rebalanced", true
				}
				return b.String(), strings.Join(actions, "; "), true
			}
		}
	}

	// Truncated payload: close the open string, then drop a trailing
	// partial token (a dangling comma or colon would break the close).
	out := b.String()
	actions := []string{}
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
		actions = append(actions, "closed unterminated string")
	}
	out = strings.TrimRight(out, ", \t\n:")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	if len(stack) > 0 {
		actions = append(actions, "closed open delimiters")
	}
	if dropped > 0 {
		actions = append(actions, "dropped leading prose")
	}
	if len(actions) == 0 {
		return out, "no repair needed", true
	}
	return out, strings.Join(actions, "; "), true
}
