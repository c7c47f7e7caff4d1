package parser

import "strings"

// sectionsFromPageText breaks one page's plain text (as returned by the
// parser service) into logical sections by heading detection. Headings are
// recognized across French, English, Spanish, and Portuguese conventions
// since the service may be asked to OCR documents in any of them.
func sectionsFromPageText(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		if isLikelyHeading(trimmed) {
			if currentContent.Len() > 0 || currentHeading != "" {
				sections = append(sections, Section{
					Heading:    currentHeading,
					Content:    strings.TrimSpace(currentContent.String()),
					Level:      currentLevel,
					PageNumber: pageNum,
					Type:       classifySectionType(currentHeading, currentContent.String()),
				})
				currentContent.Reset()
			}
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		} else {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}

	// Final section — save even if content is empty so trailing headings
	// are not silently dropped (they provide context for the next page's content).
	if currentContent.Len() > 0 || currentHeading != "" {
		sections = append(sections, Section{
			Heading:    currentHeading,
			Content:    strings.TrimSpace(currentContent.String()),
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       classifySectionType(currentHeading, currentContent.String()),
		})
	}

	// Merge empty-content sections into the next section. When a parent
	// heading (e.g. "3.9.1 Modèle A") has no body because the next line is
	// a sub-heading, prepend the parent heading so it stays co-located with
	// the data that follows it.
	for i := len(sections) - 2; i >= 0; i-- {
		if sections[i].Content == "" && sections[i].Heading != "" &&
			i+1 < len(sections) && sections[i+1].Level > sections[i].Level {
			if sections[i+1].Heading != "" {
				sections[i+1].Heading = sections[i].Heading + " — " + sections[i+1].Heading
			} else {
				sections[i+1].Heading = sections[i].Heading
			}
			sections[i+1].Level = sections[i].Level
			sections = append(sections[:i], sections[i+1:]...)
		}
	}

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{
			Content:    text,
			PageNumber: pageNum,
			Type:       "paragraph",
		})
	}

	return sections
}

func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 {
		if len(line) > 0 && line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
			return true
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "section ") || strings.HasPrefix(lower, "article ") ||
			strings.HasPrefix(lower, "chapter ") || strings.HasPrefix(lower, "part ") {
			return true
		}
		if strings.HasPrefix(lower, "sección ") || strings.HasPrefix(lower, "seccion ") ||
			strings.HasPrefix(lower, "capítulo ") || strings.HasPrefix(lower, "capitulo ") ||
			strings.HasPrefix(lower, "anexo ") {
			return true
		}
		if strings.HasPrefix(lower, "seção ") || strings.HasPrefix(lower, "secao ") ||
			strings.HasPrefix(lower, "artigo ") {
			return true
		}
		if strings.HasPrefix(lower, "chapitre ") || strings.HasPrefix(lower, "partie ") ||
			strings.HasPrefix(lower, "annexe ") {
			return true
		}
		for _, prefix := range []string{
			"tabla ", "tabela ", "tableau ",
			"figura ", "figure ",
			"cuadro ", "quadro ", "gráfico ", "graphique ",
		} {
			if strings.HasPrefix(lower, prefix) {
				afterPrefix := len(prefix)
				if len(lower) > afterPrefix && lower[afterPrefix] >= '0' && lower[afterPrefix] <= '9' {
					return true
				}
			}
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		dots := strings.Count(parts[0], ".")
		if dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	contentLower := strings.ToLower(content)

	if strings.Contains(headingLower, "définition") || strings.Contains(headingLower, "definition") ||
		strings.Contains(headingLower, "glossaire") || strings.Contains(headingLower, "glossary") ||
		strings.Contains(contentLower, "définition") || strings.Contains(contentLower, "definition") {
		return "definition"
	}
	if strings.Contains(headingLower, "doit") || strings.Contains(headingLower, "shall") || strings.Contains(headingLower, "must") ||
		strings.Contains(headingLower, "exigence") || strings.Contains(headingLower, "requirement") ||
		strings.Contains(contentLower, "doit") || strings.Contains(contentLower, "exigence") {
		return "requirement"
	}
	if strings.Contains(headingLower, "table") || strings.Contains(headingLower, "tableau") {
		return "table"
	}
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	if strings.Contains(headingLower, "annexe") || strings.Contains(headingLower, "annex") {
		return "annex"
	}
	return "section"
}

// fixRunningHeaders detects repeated headers/footers (document titles that
// appear on every page) and replaces them with the last meaningful heading,
// so content on page N+1 doesn't get silently attributed to a banner line
// instead of the real section it belongs to.
func fixRunningHeaders(sections []Section, totalPages int) []Section {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	headingPages := make(map[string]map[int]bool)
	for _, s := range sections {
		h := normalizeHeading(s.Heading)
		if h == "" {
			continue
		}
		if headingPages[h] == nil {
			headingPages[h] = make(map[int]bool)
		}
		headingPages[h][s.PageNumber] = true
	}

	threshold := max(3, totalPages/4)
	runningHeaders := make(map[string]bool)
	for h, pages := range headingPages {
		if len(pages) >= threshold {
			runningHeaders[h] = true
		}
	}
	if len(runningHeaders) == 0 {
		return sections
	}

	var lastRealHeading string
	var lastRealLevel int
	for i := range sections {
		h := normalizeHeading(sections[i].Heading)
		if runningHeaders[h] {
			if lastRealHeading != "" {
				sections[i].Heading = lastRealHeading
				sections[i].Level = lastRealLevel
			}
		} else if sections[i].Heading != "" {
			lastRealHeading = sections[i].Heading
			lastRealLevel = sections[i].Level
		}
	}
	return sections
}

// normalizeHeading strips trailing non-ASCII bytes (OCR glyph noise, and
// with it any trailing accented letter) and whitespace so a running header
// matches across pages despite OCR noise. Trailing digits are kept.
func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 || r == '\uf0d2' || r == '\ufffd' {
			h = h[:len(h)-1]
			h = strings.TrimSpace(h)
		} else {
			break
		}
	}
	return h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
