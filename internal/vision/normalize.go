package vision

import "strings"

// cropPrefixes is the closed set of crop families the pipeline knows about.
// The first underscore-separated token of a canonical key names the family.
var cropPrefixes = []string{"rice", "wheat", "maize", "cotton", "sugarcane"}

// labelAliases maps known malformed exports to their canonical key. The
// training pipeline occasionally doubles the crop prefix when folders are
// renamed, so those artifacts are listed explicitly.
var labelAliases = map[string]string{
	"rice_rice_brown_spot":           "rice_brown_spot",
	"rice_rice_leaf_blast":           "rice_leaf_blast",
	"rice_rice_healthy":              "rice_healthy",
	"wheat_wheat_leaf_rust":          "wheat_leaf_rust",
	"wheat_wheat_healthy":            "wheat_healthy",
	"maize_maize_leaf_blight":        "maize_leaf_blight",
	"cotton_cotton_bacterial_blight": "cotton_bacterial_blight",
}

// substringRule maps a label containing all of its tokens to a canonical
// key. Rules are ordered: more specific rules come before general ones
// within each crop family, so re-normalizing a rule's own output always
// lands on the same key.
type substringRule struct {
	tokens []string
	key    string
}

var substringRules = []substringRule{
	// Rice
	{[]string{"rice", "brown", "spot"}, "rice_brown_spot"},
	{[]string{"rice", "blast"}, "rice_leaf_blast"},
	{[]string{"rice", "tungro"}, "rice_tungro"},
	{[]string{"rice", "blight"}, "rice_bacterial_leaf_blight"},
	{[]string{"rice", "healthy"}, "rice_healthy"},

	// Wheat
	{[]string{"wheat", "yellow", "rust"}, "wheat_yellow_rust"},
	{[]string{"wheat", "rust"}, "wheat_leaf_rust"},
	{[]string{"wheat", "septoria"}, "wheat_septoria"},
	{[]string{"wheat", "smut"}, "wheat_loose_smut"},
	{[]string{"wheat", "healthy"}, "wheat_healthy"},

	// Maize
	{[]string{"maize", "gray", "leaf"}, "maize_gray_leaf_spot"},
	{[]string{"maize", "rust"}, "maize_common_rust"},
	{[]string{"maize", "blight"}, "maize_leaf_blight"},
	{[]string{"maize", "healthy"}, "maize_healthy"},

	// Cotton
	{[]string{"cotton", "bacterial"}, "cotton_bacterial_blight"},
	{[]string{"cotton", "curl"}, "cotton_leaf_curl"},
	{[]string{"cotton", "healthy"}, "cotton_healthy"},

	// Sugarcane
	{[]string{"sugarcane", "red", "rot"}, "sugarcane_red_rot"},
	{[]string{"sugarcane", "rust"}, "sugarcane_rust"},
	{[]string{"sugarcane", "healthy"}, "sugarcane_healthy"},
}

// cleanLabel does the mechanical character-level normalization: lowercase,
// separators to underscores, strip everything outside [a-z0-9_], collapse
// repeated underscores, trim leading/trailing underscores.
func cleanLabel(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	cleaned := b.String()
	for strings.Contains(cleaned, "__") {
		cleaned = strings.ReplaceAll(cleaned, "__", "_")
	}
	return strings.Trim(cleaned, "_")
}

// NormalizeLabel maps an arbitrary raw class-label string to a canonical
// <crop>_<condition> key. It is pure, total, and idempotent: unknown labels
// come back as their cleaned form, which is itself a stable key.
func NormalizeLabel(raw string) string {
	cleaned := cleanLabel(raw)
	if cleaned == "" {
		return "default"
	}
	if key, ok := labelAliases[cleaned]; ok {
		return key
	}
	for _, rule := range substringRules {
		if containsAll(cleaned, rule.tokens) {
			return rule.key
		}
	}
	return cleaned
}

// NormalizeCropHint reduces a free-text crop hint to a known crop prefix,
// or "" when the hint names no known crop.
func NormalizeCropHint(hint string) string {
	cleaned := cleanLabel(hint)
	if cleaned == "" {
		return ""
	}
	for _, prefix := range cropPrefixes {
		if cleaned == prefix || strings.Contains(cleaned, prefix) {
			return prefix
		}
	}
	return ""
}

// CropFamily returns the crop prefix of a canonical key: everything before
// the first underscore.
func CropFamily(key string) string {
	if i := strings.IndexByte(key, '_'); i > 0 {
		return key[:i]
	}
	return key
}

func containsAll(s string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(s, tok) {
			return false
		}
	}
	return true
}
