package media

import (
	"path"
	"strings"
)

// ServedPrefix is the URL prefix under which local images are served.
const ServedPrefix = "/images/"

// RefKind classifies a stored media reference.
type RefKind int

const (
	RefUnknown RefKind = iota
	RefRemote          // http(s) URL kept verbatim
	RefServed          // /images/<file>, the current local format
	RefLegacy          // an on-disk path written by older releases
)

func (k RefKind) String() string {
	switch k {
	case RefRemote:
		return "remote"
	case RefServed:
		return "served"
	case RefLegacy:
		return "legacy"
	}
	return "unknown"
}

// ServedPath returns the reference for a locally stored file.
func ServedPath(filename string) string {
	return ServedPrefix + filename
}

// IsRemote reports whether ref is an http(s) URL.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Classify decides which format ref is in. storageRoot is the configured
// storage path; legacy rows may embed it.
func Classify(ref, storageRoot string) RefKind {
	switch {
	case ref == "":
		return RefUnknown
	case IsRemote(ref):
		return RefRemote
	case strings.HasPrefix(ref, ServedPrefix):
		if fileName(ref) == "" {
			return RefUnknown
		}
		return RefServed
	case isLegacy(ref, storageRoot):
		return RefLegacy
	}
	return RefUnknown
}

// LocalFileName extracts the file name of a local reference. ok is false for
// remote or unrecognised references.
func LocalFileName(ref, storageRoot string) (string, bool) {
	switch Classify(ref, storageRoot) {
	case RefServed, RefLegacy:
		name := fileName(ref)
		return name, name != ""
	}
	return "", false
}

func isLegacy(ref, storageRoot string) bool {
	normalized := strings.ReplaceAll(ref, `\`, "/")
	if fileName(normalized) == "" {
		return false
	}
	prefixes := []string{
		"./storage/" + GeneratedDir + "/",
		"storage/" + GeneratedDir + "/",
	}
	if root := strings.TrimRight(strings.ReplaceAll(storageRoot, `\`, "/"), "/"); root != "" {
		prefixes = append(prefixes, root+"/"+GeneratedDir+"/")
	}
	for _, p := range prefixes {
		if strings.HasPrefix(normalized, p) {
			return true
		}
	}
	return strings.Contains(normalized, "/"+GeneratedDir+"/")
}

func fileName(ref string) string {
	name := path.Base(strings.ReplaceAll(ref, `\`, "/"))
	if name == "." || name == "/" || name == ".." || strings.HasSuffix(ref, "/") {
		return ""
	}
	return name
}
