package specfile

import "strings"

// Canonical section names with their accepted synonyms. Matching is
// case-insensitive.
var (
	SectionInstructions = []string{"CLAUDE.md", "Instructions"}
	SectionAppend       = []string{"Append", "Append to CLAUDE.md"}
	SectionMounts       = []string{"Mounts"}
	SectionEnvironment  = []string{"API Keys", "Environment"}
	SectionTasks        = []string{"Scheduled Tasks", "Tasks"}
)

// Section extracts the text block under the first top-level "## "
// heading whose title matches any of names. The block runs to the next
// top-level heading that is not inside a fenced code block: fences
// toggle an in-block flag and headings seen while it is set are
// ordinary content.
//
// The second return value distinguishes "section absent" (false) from
// "section present but empty" (true with an empty string).
func Section(body string, names ...string) (string, bool) {
	var buf []string
	inFence := false
	collecting := false
	found := false

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			if collecting {
				buf = append(buf, line)
			}
			continue
		}

		if !inFence && isTopHeading(trimmed) {
			if collecting {
				break
			}
			title := strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
			if matchesAny(title, names) {
				collecting = true
				found = true
			}
			continue
		}

		if collecting {
			buf = append(buf, line)
		}
	}

	if !found {
		return "", false
	}
	return strings.TrimSpace(strings.Join(buf, "\n")), true
}

// Unfence strips a single wrapping fenced code block, returning the
// literal content inside. Text that is not fence-wrapped is returned
// unchanged.
func Unfence(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return s
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(first, "```") || last != "```" {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func isTopHeading(trimmed string) bool {
	return strings.HasPrefix(trimmed, "## ") && !strings.HasPrefix(trimmed, "###")
}

func matchesAny(title string, names []string) bool {
	for _, name := range names {
		if strings.EqualFold(title, name) {
			return true
		}
	}
	return false
}
