package constants

import (
	"strings"

	"golang.org/x/text/cases"
)

// Vocabulary is a controlled list of categorical values with known synonyms.
type Vocabulary struct {
	name      string
	canonical []string
	index     map[string]string
}

func newVocabulary(name string, canonical []string, synonyms map[string]string) Vocabulary {
	v := Vocabulary{name: name, canonical: canonical, index: map[string]string{}}
	for _, c := range canonical {
		v.index[foldKey(c)] = c
	}
	for syn, c := range synonyms {
		v.index[foldKey(syn)] = c
	}
	return v
}

var VisitStatuses = newVocabulary("visit_status",
	[]string{"First Visit", "Returning", "Member"},
	map[string]string{
		"first time":         "First Visit",
		"first time guest":   "First Visit",
		"first time visitor": "First Visit",
		"1st time":           "First Visit",
		"new":                "First Visit",
		"second time":        "Returning",
		"returning guest":    "Returning",
		"regular":            "Returning",
		"regular attender":   "Returning",
		"church member":      "Member",
	},
)

var Interests = newVocabulary("interests",
	[]string{"Baptism", "Membership", "Small Groups", "Volunteering", "Kids Ministry", "Youth Ministry", "Prayer", "Salvation"},
	map[string]string{
		"be baptized":       "Baptism",
		"getting baptized":  "Baptism",
		"becoming a member": "Membership",
		"small group":       "Small Groups",
		"groups":            "Small Groups",
		"serving":           "Volunteering",
		"volunteer":         "Volunteering",
		"serve":             "Volunteering",
		"children":          "Kids Ministry",
		"kids":              "Kids Ministry",
		"youth":             "Youth Ministry",
		"students":          "Youth Ministry",
		"prayer request":    "Prayer",
		"pray for me":       "Prayer",
		"accepted christ":   "Salvation",
		"decision":          "Salvation",
	},
)

var CampaignKeywords = newVocabulary("campaign_keywords",
	[]string{"Easter", "Christmas", "Mothers Day", "Fathers Day", "Back To School", "Invite Sunday"},
	map[string]string{
		"easter sunday":  "Easter",
		"christmas eve":  "Christmas",
		"xmas":           "Christmas",
		"mother's day":   "Mothers Day",
		"father's day":   "Fathers Day",
		"bts":            "Back To School",
		"invite":         "Invite Sunday",
		"bring a friend": "Invite Sunday",
	},
)

func (v Vocabulary) Name() string { return v.name }

// Values returns the canonical values in display order.
func (v Vocabulary) Values() []string {
	out := make([]string, len(v.canonical))
	copy(out, v.canonical)
	return out
}

// Canonicalize maps input onto the vocabulary. Unrecognized input comes back
// trimmed but otherwise as given, with ok=false.
func (v Vocabulary) Canonicalize(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	if c, ok := v.index[foldKey(trimmed)]; ok {
		return c, true
	}
	return trimmed, false
}

// CanonicalizeAll canonicalizes every value, drops blanks and removes
// case-insensitive duplicates while keeping first-seen order.
func (v Vocabulary) CanonicalizeAll(inputs []string) []string {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		c, _ := v.Canonicalize(in)
		if c == "" {
			continue
		}
		key := foldKey(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func foldKey(s string) string {
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
