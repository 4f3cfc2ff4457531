package state

import "strings"

var sensitiveKeyPatterns = []string{
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"KEY",
	"CREDENTIAL",
	"AUTH",
	"PRIVATE",
	"CERT",
	"PASSPHRASE",
	"DSN",
}

const redactedValue = "[REDACTED]"

// SanitizeEnv returns a copy of env with values of secret-looking keys redacted,
// so the state file can be read by status without leaking credentials.
func SanitizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitiveKey(k) {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
