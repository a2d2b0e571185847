// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"fmt"
	"strings"
)

// Key identifies a pending resource as an immutable (namespace, value) pair.
// It serializes to "namespace:value".
type Key struct {
	Namespace string
	Value     string
}

func NewKey(namespace, value string) Key {
	return Key{Namespace: namespace, Value: value}
}

// ParseKey parses "namespace:value" into a Key.
func ParseKey(s string) (Key, error) {
	namespace, value, found := strings.Cut(s, ":")
	if !found {
		return Key{}, &MalformedKeyError{Input: s, Reason: "missing ':' separator"}
	}
	if namespace == "" {
		return Key{}, &MalformedKeyError{Input: s, Reason: "empty namespace"}
	}
	if value == "" {
		return Key{}, &MalformedKeyError{Input: s, Reason: "empty value"}
	}

	return Key{Namespace: namespace, Value: value}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.Value)
}

func (k Key) IsZero() bool {
	return k.Namespace == "" && k.Value == ""
}

// MalformedKeyError reports a key string that does not follow the
// "namespace:value" form.
type MalformedKeyError struct {
	Input  string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed key %q: %s", e.Input, e.Reason)
}
