package envvar

import (
	"os"
	"sort"
	"strings"
)

// MergeWithOverride merges two lists of "KEY=value" entries, with entries in
// desired taking precedence over entries of the same name in existing. The
// result is sorted by name.
func MergeWithOverride(existing, desired []string) []string {
	envMap := make(map[string]string)
	for _, env := range existing {
		name, value := split(env)
		envMap[name] = value
	}

	for _, env := range desired {
		name, value := split(env)
		envMap[name] = value
	}

	var mergedEnv []string
	for name, value := range envMap {
		mergedEnv = append(mergedEnv, name+"="+value)
	}

	sort.Strings(mergedEnv)
	return mergedEnv
}

func split(env string) (string, string) {
	name, value, _ := strings.Cut(env, "=")
	return name, value
}

func GetEnvOrDefault(envVar, defaultValue string) string {
	if val, ok := os.LookupEnv(envVar); ok {
		return val
	}
	return defaultValue
}

// ReadBool returns the boolean value of an envvar of the given name.
func ReadBool(envVarName string) bool {
	envVar := GetEnvOrDefault(envVarName, "false")
	return strings.TrimSpace(strings.ToLower(envVar)) == "true"
}
