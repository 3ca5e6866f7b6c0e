package templating

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type argKind int

const (
	argParam argKind = iota
	argString
	argNumber
	argBool
)

type arg struct {
	kind argKind
	text string
	num  float64
	b    bool
}

func parseArgs(raw string) []arg {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var args []arg
	for _, m := range argPattern.FindAllStringSubmatch(raw, -1) {
		switch {
		case m[1] != "":
			args = append(args, arg{kind: argBool, b: m[1] == "true"})
		case m[2] != "":
			args = append(args, arg{kind: argParam, text: m[2]})
		case strings.HasPrefix(m[0], `"`):
			args = append(args, arg{kind: argString, text: m[3]})
		case strings.HasPrefix(m[0], `'`):
			args = append(args, arg{kind: argString, text: m[4]})
		case m[5] != "":
			n, _ := strconv.ParseFloat(m[5], 64)
			args = append(args, arg{kind: argNumber, num: n})
		}
	}
	return args
}

func resolveArgs(args []arg, params map[string]any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch a.kind {
		case argParam:
			out[i] = params[a.text]
		case argString:
			out[i] = a.text
		case argNumber:
			out[i] = a.num
		case argBool:
			out[i] = a.b
		}
	}
	return out
}

type helperFunc func(args ...any) any

var helpers = map[string]helperFunc{
	"default": func(args ...any) any {
		if len(args) == 0 {
			return ""
		}
		if v := args[0]; v != nil && v != "" {
			return v
		}
		if len(args) > 1 {
			return args[1]
		}
		return ""
	},
	"toUpperCase": func(args ...any) any {
		return strings.ToUpper(firstString(args))
	},
	"toLowerCase": func(args ...any) any {
		return strings.ToLower(firstString(args))
	},
	"capitalize": func(args ...any) any {
		s := firstString(args)
		if s == "" {
			return ""
		}
		r, size := utf8.DecodeRuneInString(s)
		return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
	},
	"formatNumber": func(args ...any) any {
		if len(args) == 0 {
			return "[ERROR: formatNumber expects a number]"
		}
		n, ok := toFloat(args[0])
		if !ok {
			return "[ERROR: formatNumber expects a number]"
		}
		places := 2
		if len(args) > 1 {
			p, ok := toFloat(args[1])
			if !ok || p < 0 {
				return "[ERROR: formatNumber expects a positive number of decimals]"
			}
			places = int(p)
		}
		return strconv.FormatFloat(n, 'f', places, 64)
	},
	"add": func(args ...any) any {
		var sum float64
		for _, a := range args {
			if n, ok := toFloat(a); ok {
				sum += n
			}
		}
		return sum
	},
	"subtract": func(args ...any) any {
		if len(args) < 2 {
			return "[ERROR: subtract expects two numbers]"
		}
		a, okA := toFloat(args[0])
		b, okB := toFloat(args[1])
		if !okA || !okB {
			return "[ERROR: subtract expects two numbers]"
		}
		return a - b
	},
}

func firstString(args []any) string {
	if len(args) == 0 {
		return ""
	}
	return Stringify(args[0])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
