package registry

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Naming derives store names from source table and column names. An empty
// prefix yields the bare upper-cased name; config validation rejects empty
// artifact and attribute prefixes.
type Naming struct {
	ArtifactPrefix    string
	AttributePrefix   string
	DescriptionPrefix string
}

// DefaultNaming yields TSK_<TABLE>, TSK_<COLUMN> and "Amcache <TABLE>".
var DefaultNaming = Naming{
	ArtifactPrefix:    "TSK",
	AttributePrefix:   "TSK",
	DescriptionPrefix: "Amcache",
}

// ArtifactKindName returns the artifact kind name for table.
func (n Naming) ArtifactKindName(table string) string {
	return join(n.ArtifactPrefix, "_", upper(table))
}

// AttributeTypeName returns the attribute type name for column.
func (n Naming) AttributeTypeName(column string) string {
	return join(n.AttributePrefix, "_", upper(column))
}

// ArtifactDescription returns the display description for table.
func (n Naming) ArtifactDescription(table string) string {
	return join(n.DescriptionPrefix, " ", upper(table))
}

func join(prefix, sep, s string) string {
	if prefix == "" {
		return s
	}
	return prefix + sep + s
}

// upper is full Unicode upper-casing; a Caser is not safe for concurrent
// use, so one is built per call.
func upper(s string) string {
	return cases.Upper(language.Und).String(s)
}
