package registry

// #region imports
import (
	"fmt"
	"strings"
)

// #endregion

// #region interface

// Classifier turns a stage's raw input and result into discrete symbols.
// One implementation is registered per channel; the controller only reads
// the alphabets, the instrumentation calls the classify methods.
type Classifier interface {
	SchemeID() string
	InputAlphabet() []string
	OutputAlphabet() []string
	ClassifyInput(input any) string
	ClassifyOutput(output any, err error) string
}

// #endregion

// #region symbol-classifier

// SymbolClassifier passes through values that already are symbols. Values
// outside the alphabet map to "", which the channel model leaves uncounted.
// A non-nil stage error maps to ErrorSymbol.
type SymbolClassifier struct {
	Scheme      string
	Inputs      []string
	Outputs     []string
	ErrorSymbol string
}

func (c SymbolClassifier) SchemeID() string         { return c.Scheme }
func (c SymbolClassifier) InputAlphabet() []string  { return append([]string(nil), c.Inputs...) }
func (c SymbolClassifier) OutputAlphabet() []string { return append([]string(nil), c.Outputs...) }

func (c SymbolClassifier) ClassifyInput(input any) string {
	return lookup(c.Inputs, fmt.Sprint(input))
}

func (c SymbolClassifier) ClassifyOutput(output any, err error) string {
	if err != nil {
		return c.ErrorSymbol
	}
	return lookup(c.Outputs, fmt.Sprint(output))
}

func lookup(alphabet []string, s string) string {
	for _, a := range alphabet {
		if a == s {
			return s
		}
	}
	return ""
}

// #endregion

// #region keyword-classifier

// KeywordRule maps any of its keywords to Symbol.
type KeywordRule struct {
	Symbol   string   `yaml:"symbol"`
	Keywords []string `yaml:"keywords"`
	Prefix   bool     `yaml:"prefix"` // match keywords as prefixes instead of substrings
}

// KeywordClassifier assigns symbols by ordered keyword rules over the
// lower-cased text of the value. First matching rule wins. No model call.
type KeywordClassifier struct {
	Scheme         string
	InputRules     []KeywordRule
	OutputRules    []KeywordRule
	InputFallback  string
	OutputFallback string
	ErrorSymbol    string
}

func (c KeywordClassifier) SchemeID() string { return c.Scheme }

func (c KeywordClassifier) InputAlphabet() []string {
	return ruleAlphabet(c.InputRules, c.InputFallback, "")
}

func (c KeywordClassifier) OutputAlphabet() []string {
	return ruleAlphabet(c.OutputRules, c.OutputFallback, c.ErrorSymbol)
}

func (c KeywordClassifier) ClassifyInput(input any) string {
	return matchRules(c.InputRules, fmt.Sprint(input), c.InputFallback)
}

func (c KeywordClassifier) ClassifyOutput(output any, err error) string {
	if err != nil && c.ErrorSymbol != "" {
		return c.ErrorSymbol
	}
	return matchRules(c.OutputRules, fmt.Sprint(output), c.OutputFallback)
}

func matchRules(rules []KeywordRule, text, fallback string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, r := range rules {
		for _, kw := range r.Keywords {
			kw = strings.ToLower(kw)
			if r.Prefix && strings.HasPrefix(lower, kw) {
				return r.Symbol
			}
			if !r.Prefix && strings.Contains(lower, kw) {
				return r.Symbol
			}
		}
	}
	return fallback
}

func ruleAlphabet(rules []KeywordRule, extra ...string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, r := range rules {
		add(r.Symbol)
	}
	for _, e := range extra {
		add(e)
	}
	return out
}

// #endregion
