package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Spec describes the configuration parameters a component expects from its
// environment. A nil value marks the parameter as required; a non-nil value
// supplies a default used when the environment does not set the variable.
type Spec map[string]*string

// Def is a convenience helper for building a Spec with a default value.
func Def(value string) *string {
	return &value
}

// Required marks a Spec entry with no default.
var Required *string = nil

// Merge combines the entries of several Specs into a new Spec. Later Specs
// override earlier ones.
func Merge(specs ...Spec) Spec {
	merged := make(Spec)
	for _, spec := range specs {
		for name, value := range spec {
			merged[name] = value
		}
	}
	return merged
}

// FromEnvironment resolves a Spec against the process environment, returning
// a fully-populated configuration map. A required parameter that is missing
// or empty yields an error naming the parameter.
func FromEnvironment(spec Spec) (map[string]string, error) {
	conf := make(map[string]string)
	for name, deflt := range spec {
		value := os.Getenv(name)
		if value == "" {
			if deflt == nil {
				return nil, &MissingParameterError{Name: name}
			}
			value = *deflt
		}
		if value == "" {
			return nil, &MissingParameterError{Name: name}
		}
		conf[name] = value
	}
	return conf, nil
}

// Validate checks that every parameter named by the Spec is present and
// non-empty in the given configuration map.
func Validate(conf map[string]string, spec Spec) error {
	for name := range spec {
		if conf[name] == "" {
			return &MissingParameterError{Name: name}
		}
	}
	return nil
}

// secretSuffixes lists the config key suffixes whose values must never be
// written to the log.
var secretSuffixes = []string{
	"CLIENT_SECRET",
	"AUTH_PASS",
}

// IsSecret reports whether the named configuration parameter holds a secret.
func IsSecret(name string) bool {
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Log writes each configuration parameter to the structured log in sorted
// order, redacting secret values.
func Log(conf map[string]string) {
	names := make([]string, 0, len(conf))
	for name := range conf {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if IsSecret(name) {
			slog.Info(fmt.Sprintf("%s = [REDACTED]", name))
		} else {
			slog.Info(fmt.Sprintf("%s = %s", name, conf[name]))
		}
	}
}

// Int parses the named configuration parameter as an integer.
func Int(conf map[string]string, name string) (int, error) {
	value, err := strconv.Atoi(conf[name])
	if err != nil {
		return 0, fmt.Errorf("configuration parameter %s: %s", name, err.Error())
	}
	return value, nil
}

// Float parses the named configuration parameter as a float.
func Float(conf map[string]string, name string) (float64, error) {
	value, err := strconv.ParseFloat(conf[name], 64)
	if err != nil {
		return 0, fmt.Errorf("configuration parameter %s: %s", name, err.Error())
	}
	return value, nil
}

// trueSet holds the strings recognized as boolean true.
var trueSet = map[string]struct{}{
	"1": {}, "t": {}, "true": {}, "y": {}, "yes": {},
}

// Bool interprets the named configuration parameter as a boolean. Anything
// not recognizably true is false.
func Bool(conf map[string]string, name string) bool {
	_, ok := trueSet[strings.ToLower(conf[name])]
	return ok
}
