package importer

import (
	"regexp"
	"strconv"
	"strings"
)

// Candidate is one roster entry extracted from the contingent document.
type Candidate struct {
	Name   string
	Group  string
	Course int
}

// Names shorter than this are residue (page numbers, stray initials) and are
// dropped by both strategies.
const MinNameLength = 5

var (
	// Group headers look like "2 курс ... специальности 09.02.07" with the
	// specialty code optionally wrapped in quotes.
	headerRe = regexp.MustCompile(`(?i)(\d+)\s*курс[^\n]*?специальност\S*\s*[«"]?([0-9][0-9.\-]*[^\s»",;]*)`)

	// Student lines are numbered: "12. Иванов Иван Иванович".
	numberedLineRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)

	courseLineRe    = regexp.MustCompile(`(?i)(?:(\d+)\s*курс|курс\s*(\d+))`)
	specialtyLineRe = regexp.MustCompile(`(?i)специальност\S*\s*[«"]?([0-9][0-9.\-]*[^\s»",;]*)`)
)

// Lines carrying these tokens describe students no longer in the group
// (transfers, leaves, conscription) and are skipped by the fallback scanner.
var excludeTokens = []string{
	"перевед",
	"не явил",
	"академ",
	"отпуск",
	"отчисл",
	"друг. спец",
	"другой специальн",
	"армия",
	"ряды вооруж",
}

// Parse extracts roster candidates from document text. The header-segmenting
// heuristic runs first; when it recognizes nothing the line scanner takes
// over. Both are best-effort passes tuned to one document layout. An empty
// result means the text matched neither and the import should be reported as
// failed.
func Parse(text string) []Candidate {
	if candidates := parseByGroupHeaders(text); len(candidates) > 0 {
		return candidates
	}
	return parseLineByLine(text)
}

// parseByGroupHeaders segments the text at "курс N ... специальность CODE"
// headers and reads every numbered line of a segment as one student of that
// header's group.
func parseByGroupHeaders(text string) []Candidate {
	matches := headerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	candidates := make([]Candidate, 0)
	for i, match := range matches {
		course, err := strconv.Atoi(text[match[2]:match[3]])
		if err != nil {
			continue
		}
		group := cleanGroup(text[match[4]:match[5]])
		if group == "" {
			continue
		}

		segmentEnd := len(text)
		if i+1 < len(matches) {
			segmentEnd = matches[i+1][0]
		}
		segment := text[match[1]:segmentEnd]

		for _, line := range strings.Split(segment, "\n") {
			m := numberedLineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := cleanName(m[1])
			if len([]rune(name)) < MinNameLength {
				continue
			}
			candidates = append(candidates, Candidate{Name: name, Group: group, Course: course})
		}
	}
	return candidates
}

// parseLineByLine walks the text once, tracking the current group and course
// as header-ish lines go by and collecting numbered student lines.
func parseLineByLine(text string) []Candidate {
	candidates := make([]Candidate, 0)
	group := ""
	course := 0

	for _, line := range strings.Split(text, "\n") {
		if m := courseLineRe.FindStringSubmatch(line); m != nil {
			digits := m[1]
			if digits == "" {
				digits = m[2]
			}
			if parsed, err := strconv.Atoi(digits); err == nil {
				course = parsed
			}
		}
		if m := specialtyLineRe.FindStringSubmatch(line); m != nil {
			if cleaned := cleanGroup(m[1]); cleaned != "" {
				group = cleaned
			}
			continue
		}

		m := numberedLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if group == "" || course == 0 {
			continue
		}
		if excluded(m[1]) {
			continue
		}
		name := cleanName(m[1])
		if len([]rune(name)) < MinNameLength {
			continue
		}
		candidates = append(candidates, Candidate{Name: name, Group: group, Course: course})
	}
	return candidates
}

func excluded(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range excludeTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// cleanName strips leftover markup and collapses runs of whitespace. No
// format validation happens here: any sufficiently long string is a name.
func cleanName(raw string) string {
	cleaned := strings.NewReplacer("*", "", "_", "", "•", "", ";", "", "\t", " ").Replace(raw)
	cleaned = strings.Trim(cleaned, " ,.-")
	return strings.Join(strings.Fields(cleaned), " ")
}

func cleanGroup(raw string) string {
	return strings.Trim(raw, `«»"' ,;.`)
}
