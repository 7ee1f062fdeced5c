package core

import "strings"

const RedactedValue = "[REDACTED]"

// secretValuePrefixes catch Stripe credentials logged under innocent keys.
var secretValuePrefixes = []string{"whsec_", "sk_live_", "sk_test_", "rk_live_", "rk_test_"}

// RedactSensitiveMap copies fields with signing material, credentials and card
// data replaced by RedactedValue. Event identifiers stay visible.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(fields)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	case string:
		if looksLikeSecret(typed) {
			return RedactedValue
		}
		return typed
	default:
		return value
	}
}

func looksLikeSecret(value string) bool {
	value = strings.TrimSpace(value)
	for _, prefix := range secretValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"secret",
		"signature",
		"authorization",
		"token",
		"password",
		"api_key",
		"card_number",
		"cvc",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "event_id",
		"event_type",
		"text_code",
		"idempotency_key",
		"customer_id",
		"subscription_id",
		"invoice_id",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
