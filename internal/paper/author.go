package paper

import (
	"regexp"
	"strings"
)

var (
	trailingAffiliation = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)
	angleEmail          = regexp.MustCompile(`^(.*?)\s*<([^<>]*)>\s*(.*)$`)
)

// simplify trims s and collapses internal whitespace runs.
func simplify(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseAuthorText reads "First Last <email> (affiliation)", "Last, First",
// a bare email, or tab separated "first\tlast\temail\taffiliation".
func parseAuthorText(text string) Author {
	if strings.Contains(text, "\t") {
		parts := strings.Split(text, "\t")
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		return Author{
			First:       simplify(parts[0]),
			Last:        simplify(parts[1]),
			Email:       simplify(parts[2]),
			Affiliation: simplify(parts[3]),
		}
	}

	var au Author
	text = simplify(text)
	if m := trailingAffiliation.FindStringSubmatch(text); m != nil {
		text, au.Affiliation = m[1], simplify(m[2])
	}
	if m := angleEmail.FindStringSubmatch(text); m != nil {
		au.Email = simplify(m[2])
		text = simplify(m[1] + " " + m[3])
	} else if !strings.Contains(text, " ") && strings.Contains(text, "@") {
		au.Email, text = text, ""
	}
	au.First, au.Last = splitName(text)
	return au
}

// splitName splits a full name; "Last, First" is honored, otherwise the
// last word is the last name.
func splitName(name string) (string, string) {
	name = simplify(name)
	if name == "" {
		return "", ""
	}
	if last, first, ok := strings.Cut(name, ","); ok {
		first = simplify(first)
		if first != "" && !isNameSuffix(first) {
			return first, simplify(last)
		}
	}
	i := strings.LastIndex(name, " ")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

func isNameSuffix(s string) bool {
	switch strings.ToLower(strings.TrimSuffix(s, ".")) {
	case "jr", "sr", "ii", "iii", "iv", "phd":
		return true
	}
	return false
}

// parseAuthorObject reads {first, last, email, affiliation, name,
// firstName, lastName, contact, index}.
func parseAuthorObject(obj jsonShape) (Author, bool) {
	var au Author
	str := func(keys ...string) (string, bool) {
		_, v := obj.first(keys...)
		switch v.kind {
		case shapeMissing, shapeNull:
			return "", true
		case shapeString:
			return simplify(v.str), true
		}
		return "", false
	}
	var ok [5]bool
	au.First, ok[0] = str("first", "firstName")
	au.Last, ok[1] = str("last", "lastName")
	au.Email, ok[2] = str("email")
	au.Affiliation, ok[3] = str("affiliation")
	var name string
	name, ok[4] = str("name")
	for _, good := range ok {
		if !good {
			return Author{}, false
		}
	}
	if au.First == "" && au.Last == "" && name != "" {
		au.First, au.Last = splitName(name)
	}
	if c := obj.get("contact"); c.present() && c.kind != shapeNull {
		contact := c.truthy()
		au.Contact = &contact
	}
	au.Index = -1
	if n, isInt := obj.get("index").int64(); isInt {
		au.Index = int(n)
	}
	return au, true
}

// authorInformation is the stored author text: one tab separated line per
// author.
func authorInformation(authors []Author) string {
	var b strings.Builder
	for _, au := range authors {
		b.WriteString(au.First)
		b.WriteByte('\t')
		b.WriteString(au.Last)
		b.WriteByte('\t')
		b.WriteString(au.Email)
		b.WriteByte('\t')
		b.WriteString(au.Affiliation)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseAuthorInformation reverses authorInformation.
func ParseAuthorInformation(text string) []Author {
	var authors []Author
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		au := parseAuthorText(line + "\t")
		au.Index = len(authors)
		authors = append(authors, au)
	}
	return authors
}

// cleanCollaborators trims each line and drops blank ones.
func cleanCollaborators(text string) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = simplify(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var (
	dashAffiliation = regexp.MustCompile(`^[^()]+\s[-–—]\s[^()]+$`)
	manyNames       = regexp.MustCompile(`[;,].*[;,]`)
	parenthesized   = regexp.MustCompile(`\([^()]*\)`)
)

// collaboratorWarnings flags formatting that suggests the collaborators
// field was filled in the wrong way.
func collaboratorWarnings(text string) []string {
	const field = "Potential conflicts"
	if text == "" {
		return []string{"Enter the authors’ external conflicts of interest in the " + field + " field. If none of the authors have external conflicts, enter “None”."}
	}
	var warnings []string
	var punctuation, oneLine bool
	for _, line := range strings.Split(text, "\n") {
		bare := parenthesized.ReplaceAllString(line, "")
		if !punctuation && dashAffiliation.MatchString(line) {
			punctuation = true
		}
		if !oneLine && manyNames.MatchString(bare) {
			oneLine = true
		}
	}
	if punctuation {
		warnings = append(warnings, "Please use parentheses to indicate affiliations in the "+field+" field. (It looks like you might have used other punctuation.)")
	}
	if oneLine {
		warnings = append(warnings, "Please enter one potential conflict per line in the "+field+" field. (It looks like you might have multiple conflicts per line.)")
	}
	return warnings
}
