package logging

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	sensitiveWords   = []string{"PASSWORD", "PASSWD", "SECRET", "TOKEN", "API_KEY", "APIKEY", "PRIVATE_KEY", "CREDENTIAL"}
	secretKeyPattern = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:` + strings.Join(quoted(sensitiveWords), "|") + `)[A-Z0-9_]*)(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

func quoted(words []string) []string {
	out := make([]string, len(words))
	for i, word := range words {
		out[i] = regexp.QuoteMeta(word)
	}
	return out
}

// RedactSecrets masks values assigned to secret-looking keys, such as
// "DB_PASSWORD=hunter2" or "token: abc", in backend output.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	return secretKeyPattern.ReplaceAllString(message, "$1$2$3"+redactedPlaceholder+"$5")
}

// RedactEnv returns a copy of KEY=VALUE pairs with the values of sensitive keys
// masked.
func RedactEnv(env []string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, len(env))
	for i, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if ok && IsSensitiveKey(key) {
			out[i] = key + "=" + redactedPlaceholder
			continue
		}
		out[i] = kv
	}
	return out
}

// IsSensitiveKey reports whether an environment variable name looks like it
// holds a credential.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, word := range sensitiveWords {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}
