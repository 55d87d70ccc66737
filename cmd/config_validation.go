package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

const maxUploadSizeMB = 4096

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
// It accepts a value getter and returns nil when all configured values are valid.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateStorageConfig(get, &validationErrs)
	validateUploadConfig(get, &validationErrs)
	validateQueryConfig(get, &validationErrs)
	validateCatalogConfig(get, &validationErrs)
	validateWebConfig(get, &validationErrs)
	validateThrottleConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

func validateStorageConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.storage.dir", errs)
}

// validateUploadConfig validates the upload size limit in megabytes.
func validateUploadConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.upload.max_size_mb", 1, errs)

	raw := get("settings.upload.max_size_mb")
	if raw == nil {
		return
	}
	if v, err := parseStrictInt(raw); err == nil && v > maxUploadSizeMB {
		appendValidationError(errs, "settings.upload.max_size_mb must be <= %d", maxUploadSizeMB)
	}
}

func validateQueryConfig(get configGetter, errs *[]string) {
	validateOptionalBool(get, "settings.query.archive_results", errs)
	validateOptionalIntMin(get, "settings.query.history_limit", 1, errs)
}

func validateCatalogConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.catalog.cache_ttl_seconds", 0, errs)
}

func validateThrottleConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.throttle.client_per_sec", 0, errs)
	validateOptionalIntMin(get, "settings.throttle.total_per_sec", 0, errs)
}

// validateWebConfig validates CORS origins, each entry must be a host,
// ".domain" for subdomains, or "*".
func validateWebConfig(get configGetter, errs *[]string) {
	raw := get("settings.web.allowed_origins")
	if raw == nil {
		return
	}

	origins, ok := toStringSlice(raw)
	if !ok {
		appendValidationError(errs, "settings.web.allowed_origins must be a list of strings")
		return
	}
	for i, origin := range origins {
		if !isValidOriginPattern(origin) {
			appendValidationError(errs, "settings.web.allowed_origins[%d] must be a host, .domain or *", i)
		}
	}
}

func isValidOriginPattern(pattern string) bool {
	trimmed := strings.TrimSpace(pattern)
	switch {
	case trimmed == "":
		return false
	case trimmed == "*":
		return true
	case strings.Contains(trimmed, "://"), strings.Contains(trimmed, "/"):
		return false
	}

	u, err := url.Parse("http://" + strings.TrimPrefix(trimmed, "."))
	return err == nil && u.Hostname() != ""
}

func toStringSlice(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := parseStrictString(item)
			if err != nil {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// validateOptionalBool validates an optionally configured boolean key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	if _, ok := parseStrictBool(raw); !ok {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

// validateOptionalIntMin validates an optionally configured integer key with a minimum constraint.
// It accepts a getter, the key, a minimum value, and an error collector pointer and appends validation errors.
func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalStringNonEmpty validates an optionally configured non-empty string key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// parseStrictBool parses a value as boolean using strict conversion rules.
// It accepts a raw value and returns the parsed boolean and whether parsing succeeded.
func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		if math.Trunc(v) != v {
			return false, false
		}
		return int64(v) != 0, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return false, false
		}
		switch strings.ToLower(trimmed) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

// parseStrictInt parses a value as a strict integer.
// It accepts a raw value and returns the parsed int and an error when parsing fails.
func parseStrictInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, errors.New("empty integer string")
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, errors.Wrap(err, "atoi")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

// parseStrictString parses a value as a strict string.
// It accepts a raw value and returns the parsed string and an error when parsing fails.
func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

// appendValidationError appends a formatted validation error to the collector.
// It accepts an error slice pointer, a format string, and format arguments, and has no return value.
func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
