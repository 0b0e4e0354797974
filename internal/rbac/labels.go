package rbac

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// UncategorizedGroup is the structure key for permissions without a group.
const UncategorizedGroup = "uncategorized"

var labelReplacer = strings.NewReplacer(".", " ", "_", " ")

// DisplayLabel returns label when set, otherwise a title-cased rendition of
// name with dots and underscores turned into spaces.
func DisplayLabel(name, label string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	return titleWords(labelReplacer.Replace(name))
}

// GroupKey normalises a permission group into its structure key.
func GroupKey(group string) string {
	group = strings.TrimSpace(group)
	if group == "" {
		return UncategorizedGroup
	}
	return strings.ToLower(group)
}

// DisplayGroup renders a group for listings. Permissions without a group are
// shown under "General".
func DisplayGroup(group string) string {
	group = strings.TrimSpace(group)
	if group == "" {
		return "General"
	}
	return titleWords(strings.ReplaceAll(group, "_", " "))
}

var upper = cases.Upper(language.Und)

// titleWords upper-cases the first rune of every space-separated word and
// leaves the rest alone: "two-factor show" becomes "Two-factor Show".
func titleWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = upper.String(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func isReserved(name string) bool {
	return shared.IsReservedRole(name)
}
