package config

import "strings"

// Build variables derived from the repository entry itself. A setting that
// normalizes to one of these would shadow it.
var reservedSettings = map[string]bool{
	"FULL_NAME":    true,
	"GIT_ADDRESS":  true,
	"PROD_BRANCH":  true,
	"CHECKOUT_DIR": true,
}

// NormalizeSettingKey turns a settings key into its environment form:
// trimmed, spaces replaced by underscores, upper-cased.
func NormalizeSettingKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), " ", "_"))
}

// IsReservedSetting reports whether key collides with a built-in variable.
func IsReservedSetting(key string) bool {
	return reservedSettings[NormalizeSettingKey(key)]
}
