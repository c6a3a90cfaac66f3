package types

import "strings"

const (
	InstanceListPrefix = "registrar.iplist."
	ServiceMetaPrefix  = "registrar.meta."
	SwitchKey          = "registrar.switch"

	NamespaceSeparator = "##"
	GroupSeparator     = "@@"
	DefaultGroup       = "DEFAULT_GROUP"
)

func InstanceListKey(namespace, group, service string) string {
	return InstanceListPrefix + qualify(namespace, group, service)
}

func ServiceMetaKey(namespace, group, service string) string {
	return ServiceMetaPrefix + qualify(namespace, group, service)
}

func qualify(namespace, group, service string) string {
	if group == "" {
		group = DefaultGroup
	}
	return namespace + NamespaceSeparator + group + GroupSeparator + service
}

func IsInstanceListKey(key string) bool {
	return strings.HasPrefix(key, InstanceListPrefix)
}

func IsServiceMetaKey(key string) bool {
	return strings.HasPrefix(key, ServiceMetaPrefix)
}

func IsSwitchKey(key string) bool {
	return key == SwitchKey
}

// Namespace returns the storage partition of a key, or "" for keys that
// carry none.
func Namespace(key string) string {
	rest := key
	switch {
	case IsInstanceListKey(key):
		rest = strings.TrimPrefix(key, InstanceListPrefix)
	case IsServiceMetaKey(key):
		rest = strings.TrimPrefix(key, ServiceMetaPrefix)
	default:
		return ""
	}
	ns, _, ok := strings.Cut(rest, NamespaceSeparator)
	if !ok {
		return ""
	}
	return ns
}

// MatchesPrefix reports whether key falls under a coarse listener prefix.
func MatchesPrefix(key, prefix string) bool {
	return prefix != "" && key != prefix && strings.HasPrefix(key, prefix)
}
