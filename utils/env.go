package utils

import (
	"os"
	"strconv"
	"strings"
)

// The ReadEnv helpers override *value with the named environment variable.
// Unset or unparsable variables leave the value untouched.

// ReadEnvString reads a string variable.
func ReadEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

// ReadEnvBool reads a boolean variable given as true/false, 1/0, yes/no or on/off.
func ReadEnvBool(name string, value *bool) {
	switch strings.ToLower(os.Getenv(name)) {
	case "true", "1", "yes", "on":
		*value = true
	case "false", "0", "no", "off":
		*value = false
	}
}

// ReadEnvInt reads an integer variable.
func ReadEnvInt(name string, value *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*value = i
}

// ReadEnvFloat reads a floating point variable.
func ReadEnvFloat(name string, value *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*value = f
}
