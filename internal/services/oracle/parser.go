package oracle

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Reply is the token level reading of a free-text oracle response.
type Reply struct {
	// Action is the first recognized action keyword, upper-case, empty when none was found.
	Action string

	Amount    decimal.Decimal
	HasAmount bool

	Price    decimal.Decimal
	HasPrice bool

	Exit    bool
	HasExit bool

	// Unrecognized counts non-empty lines that carried no known token.
	Unrecognized int
}

var actionKeywords = map[string]struct{}{
	"EXECUTE":          {},
	"WAIT":             {},
	"SKIP":             {},
	"SELL":             {},
	"BUY":              {},
	"HOLD":             {},
	"EXIT":             {},
	"EXIT_AND_REENTER": {},
}

const (
	keyAction = iota + 1
	keyAmount
	keyPrice
	keyExit
)

var tokenKeys = map[string]int{
	"ACTION":         keyAction,
	"DECISION":       keyAction,
	"RECOMMENDATION": keyAction,
	"SIP_AMOUNT":     keyAmount,
	"AMOUNT":         keyAmount,
	"INVEST_AMOUNT":  keyAmount,
	"REENTRY_PRICE":  keyPrice,
	"RE_ENTRY_PRICE": keyPrice,
	"TARGET_PRICE":   keyPrice,
	"EXIT":           keyExit,
	"SHOULD_EXIT":    keyExit,
	"EXIT_NOW":       keyExit,
}

// ParseReply scans text line by line for KEY: VALUE tokens and bare action keywords.
// It never fails: anything it cannot read is counted and ignored.
func ParseReply(text string) Reply {
	var r Reply

	for _, raw := range strings.Split(text, "\n") {
		line := trimDecoration(raw)
		if line == "" {
			continue
		}

		// a keyed line is consumed even when its value is unreadable so the
		// key itself is never taken for an action
		if key, value, ok := strings.Cut(line, ":"); ok {
			if consumed, read := r.readToken(normalizeKey(key), value); consumed {
				if !read {
					r.Unrecognized++
				}
				continue
			}
		}

		if r.Action == "" {
			if kw, ok := leadingKeyword(line); ok {
				r.Action = kw
				continue
			}
		}

		r.Unrecognized++
	}

	return r
}

// readToken reports whether key is a known token and whether its value could be read.
func (r *Reply) readToken(key, value string) (consumed, read bool) {
	kind, ok := tokenKeys[key]
	if !ok {
		// "EXECUTE: yes" confirms the action, "EXECUTE: no" does not
		if _, isAction := actionKeywords[key]; !isAction {
			return false, false
		}
		yes, ok := parseYesNo(value)
		if !ok || !yes {
			return true, false
		}
		if r.Action == "" {
			r.Action = key
		}
		return true, true
	}

	switch kind {
	case keyAction:
		kw, ok := leadingKeyword(value)
		if !ok {
			return true, false
		}
		if r.Action == "" {
			r.Action = kw
		}
	case keyAmount:
		n, ok := parseAmount(value)
		if !ok {
			return true, false
		}
		if !r.HasAmount {
			r.Amount, r.HasAmount = n, true
		}
	case keyPrice:
		n, ok := parseAmount(value)
		if !ok {
			return true, false
		}
		if !r.HasPrice {
			r.Price, r.HasPrice = n, true
		}
	case keyExit:
		yes, ok := parseYesNo(value)
		if !ok {
			return true, false
		}
		if !r.HasExit {
			r.Exit, r.HasExit = yes, true
		}
	}

	return true, true
}

func trimDecoration(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("*_#>`\"'-•", r)
	})
}

func normalizeKey(key string) string {
	key = strings.ToUpper(trimDecoration(key))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return key
}

// leadingKeyword reads an action keyword at the start of s, accepting
// "EXIT AND REENTER" and "EXIT-AND-REENTER" spellings. A keyword asked as a
// question or followed by a negation ("Sell? No", "SELL NOT advised") is no action.
func leadingKeyword(s string) (string, bool) {
	upper := strings.ToUpper(trimDecoration(s))

	// the replacer swaps single bytes, so offsets into compact hold for upper
	compact := strings.NewReplacer(" ", "_", "-", "_").Replace(upper)
	for _, prefix := range []string{"EXIT_AND_RE_ENTER", "EXIT_AND_REENTER"} {
		if strings.HasPrefix(compact, prefix) {
			if negated(upper[len(prefix):]) {
				return "", false
			}
			return "EXIT_AND_REENTER", true
		}
	}

	word := upper
	if i := strings.IndexFunc(upper, func(r rune) bool { return !unicode.IsLetter(r) && r != '_' }); i >= 0 {
		word = upper[:i]
	}
	if _, ok := actionKeywords[word]; !ok {
		return "", false
	}
	if negated(upper[len(word):]) {
		return "", false
	}

	return word, true
}

var negations = map[string]struct{}{
	"NO":    {},
	"NOT":   {},
	"NEVER": {},
	"DON":   {},
	"DONT":  {},
}

// negated reports whether the text following a keyword turns it into a question or a refusal.
func negated(rest string) bool {
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "?") {
		return true
	}
	word, ok := leadingWord(rest)
	if !ok {
		return false
	}
	_, neg := negations[word]
	return neg
}

// parseAmount reads the leading number of value, tolerating currency symbols and thousands separators.
func parseAmount(value string) (decimal.Decimal, bool) {
	v := strings.ToUpper(strings.TrimSpace(value))
	v = strings.NewReplacer("₹", "", "$", "", "INR", "", "RS.", "", "RS", "", ",", "", " ", "", "*", "").Replace(v)

	end := 0
	dot := false
	for end < len(v) {
		c := v[end]
		if c == '.' && !dot {
			dot = true
			end++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		end++
	}

	num := strings.TrimSuffix(v[:end], ".")
	if num == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}

	return d, true
}

func parseYesNo(value string) (bool, bool) {
	word, _ := leadingWord(value)
	switch word {
	case "YES", "Y", "TRUE", "EXIT":
		return true, true
	case "NO", "N", "FALSE", "HOLD", "CONTINUE":
		return false, true
	}
	return false, false
}

func leadingWord(s string) (string, bool) {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
