package urlgate

import (
	"math"
	"strings"
)

// suspiciousTLDs are top-level domains disproportionately used for
// phishing and malware distribution.
var suspiciousTLDs = map[string]bool{
	"xyz":    true,
	"top":    true,
	"club":   true,
	"online": true,
	"site":   true,
	"info":   true,
	"biz":    true,
	"cn":     true,
	"ru":     true,
	"tk":     true,
}

// asciiPunctuation matches Python's string.punctuation set, which the
// scoring model was trained against.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// FeatureVector is the fixed set of numeric features the scoring model
// consumes. It is derived purely from the URL string: identical inputs
// always produce identical vectors. Every field is always present; a
// zero value is the default for anything that cannot be derived.
type FeatureVector struct {
	URLLength         float64 `json:"url_length"`
	PathDepth         float64 `json:"path_depth"`
	NumSpecialChars   float64 `json:"num_special_chars"`
	SpecialCharsRatio float64 `json:"special_chars_ratio"`
	NumDigits         float64 `json:"num_digits"`
	DigitsRatio       float64 `json:"digits_ratio"`
	NumUppercase      float64 `json:"num_uppercase"`
	UppercaseRatio    float64 `json:"uppercase_ratio"`
	SubdomainCount    float64 `json:"subdomain_count"`
	URLEntropy        float64 `json:"url_entropy"`
	HyphenCount       float64 `json:"hyphen_count"`
	SuspiciousTLD     float64 `json:"suspicious_tld"`
	HasLogin          float64 `json:"has_login"`
}

// FeatureKeys is the stable key set of the feature contract, in the
// order the scoring model expects its inputs.
var FeatureKeys = []string{
	"url_entropy", "num_special_chars", "url_length", "path_depth",
	"digits_ratio", "num_digits", "subdomain_count", "special_chars_ratio",
	"hyphen_count", "suspicious_tld", "num_uppercase", "uppercase_ratio",
	"has_login",
}

// AsMap returns the vector as the flat key-to-number mapping used on
// the wire. All keys in FeatureKeys are always present.
func (fv FeatureVector) AsMap() map[string]float64 {
	return map[string]float64{
		"url_length":          fv.URLLength,
		"path_depth":          fv.PathDepth,
		"num_special_chars":   fv.NumSpecialChars,
		"special_chars_ratio": fv.SpecialCharsRatio,
		"num_digits":          fv.NumDigits,
		"digits_ratio":        fv.DigitsRatio,
		"num_uppercase":       fv.NumUppercase,
		"uppercase_ratio":     fv.UppercaseRatio,
		"subdomain_count":     fv.SubdomainCount,
		"url_entropy":         fv.URLEntropy,
		"hyphen_count":        fv.HyphenCount,
		"suspicious_tld":      fv.SuspiciousTLD,
		"has_login":           fv.HasLogin,
	}
}

// FeatureVectorFromMap builds a vector from a flat mapping, defaulting
// any missing key to zero.
func FeatureVectorFromMap(m map[string]float64) FeatureVector {
	return FeatureVector{
		URLLength:         m["url_length"],
		PathDepth:         m["path_depth"],
		NumSpecialChars:   m["num_special_chars"],
		SpecialCharsRatio: m["special_chars_ratio"],
		NumDigits:         m["num_digits"],
		DigitsRatio:       m["digits_ratio"],
		NumUppercase:      m["num_uppercase"],
		UppercaseRatio:    m["uppercase_ratio"],
		SubdomainCount:    m["subdomain_count"],
		URLEntropy:        m["url_entropy"],
		HyphenCount:       m["hyphen_count"],
		SuspiciousTLD:     m["suspicious_tld"],
		HasLogin:          m["has_login"],
	}
}

// ExtractFeatures computes the feature vector for a URL string. The
// input may be scheme-qualified or already normalized (scheme removed);
// host-derived features work in both forms.
func ExtractFeatures(rawURL string) FeatureVector {
	var fv FeatureVector

	length := len(rawURL)
	fv.URLLength = float64(length)
	if length == 0 {
		return fv
	}

	fv.PathDepth = float64(strings.Count(rawURL, "/"))
	fv.HyphenCount = float64(strings.Count(rawURL, "-"))

	for _, c := range rawURL {
		switch {
		case c >= '0' && c <= '9':
			fv.NumDigits++
		case c >= 'A' && c <= 'Z':
			fv.NumUppercase++
		}
		if c < 128 && strings.ContainsRune(asciiPunctuation, c) {
			fv.NumSpecialChars++
		}
	}
	fv.SpecialCharsRatio = fv.NumSpecialChars / float64(length)
	fv.DigitsRatio = fv.NumDigits / float64(length)
	fv.UppercaseRatio = fv.NumUppercase / float64(length)

	fv.URLEntropy = shannonEntropy(rawURL)

	host := hostFromURLString(rawURL)
	if host != "" {
		labels := strings.Split(host, ".")
		if len(labels) > 2 {
			fv.SubdomainCount = float64(len(labels) - 2)
		}
		tld := strings.ToLower(labels[len(labels)-1])
		if len(labels) > 1 && suspiciousTLDs[tld] {
			fv.SuspiciousTLD = 1
		}
	}

	if strings.Contains(strings.ToLower(rawURL), "login") {
		fv.HasLogin = 1
	}

	return fv
}

// shannonEntropy computes the Shannon entropy of the byte sequence in
// bits per byte. Strings of length <= 1 have zero entropy.
func shannonEntropy(s string) float64 {
	if len(s) <= 1 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	length := float64(len(s))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// hostFromURLString extracts the host portion of a URL that may or may
// not carry a scheme. Ports and userinfo are not stripped here; callers
// needing a clean hostname use the whitelist parsing path instead.
func hostFromURLString(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return s
}
