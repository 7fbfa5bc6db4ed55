package transform

import "strings"

// SubstituteOptions replaces every "%{name}" token in value with
// options[name], leaving unrecognised tokens untouched so a missing
// runtime option surfaces downstream (in the SQL parser or shell command)
// rather than being silently dropped here.
func SubstituteOptions(value string, options map[string]string) string {
	if len(options) == 0 || !strings.Contains(value, "%{") {
		return value
	}

	var b strings.Builder
	i := 0
	for i < len(value) {
		start := strings.Index(value[i:], "%{")
		if start < 0 {
			b.WriteString(value[i:])
			break
		}
		start += i
		b.WriteString(value[i:start])

		end := strings.Index(value[start:], "}")
		if end < 0 {
			b.WriteString(value[start:])
			break
		}
		end += start

		name := value[start+2 : end]
		if replacement, ok := options[name]; ok {
			b.WriteString(replacement)
		} else {
			b.WriteString(value[start : end+1])
		}
		i = end + 1
	}
	return b.String()
}
