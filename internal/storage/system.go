// Package storage maps logical, system-relative paths to physical paths on
// the local filesystem of the current runtime, and back.
//
// A storage system identifier is classified into a SystemType and a short
// name by ordered, anchored pattern rules. Each (runtime, type) pair then
// has a base directory template, or no template at all when that runtime
// has no mount for that kind of system.
package storage

import (
	"regexp"

	"github.com/koustreak/bacanora/internal/errs"
)

// SystemType groups storage systems that share a mount layout.
type SystemType string

const (
	Community SystemType = "community"
	Project   SystemType = "project"
	Public    SystemType = "public"
	Share     SystemType = "share"
	Work      SystemType = "work"
)

// SystemTypes lists every type in classification order.
func SystemTypes() []SystemType {
	return []SystemType{Community, Public, Share, Project, Work}
}

// ParseSystemType validates s.
func ParseSystemType(s string) (SystemType, error) {
	for _, t := range SystemTypes() {
		if SystemType(s) == t {
			return t, nil
		}
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "%q is not a storage system type", s)
}

// Descriptor identifies a storage system.
type Descriptor struct {
	ID        string
	Type      SystemType
	ShortName string
	// Classified is false for systems accepted in permissive mode without
	// a known type; such systems are reachable only remotely.
	Classified bool
}

type rule struct {
	typ     SystemType
	pattern *regexp.Regexp
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{Community, regexp.MustCompile(`^data-(sd2e-community)$`)},
	{Public, regexp.MustCompile(`^data-sd2e-projects-(users)$`)},
	{Share, regexp.MustCompile(`^data-sd2e-projects\.([-.a-zA-Z0-9]{4,})$`)},
	{Project, regexp.MustCompile(`^data-projects-([-.a-zA-Z0-9]{4,})$`)},
	{Work, regexp.MustCompile(`^data-tacc-work-([a-zA-Z0-9]{3,8})$`)},
}

// Classify derives type and short name from id using the built-in rules.
func Classify(id string) (Descriptor, error) {
	for _, r := range rules {
		if m := r.pattern.FindStringSubmatch(id); m != nil {
			return Descriptor{ID: id, Type: r.typ, ShortName: m[1], Classified: true}, nil
		}
	}
	return Descriptor{ID: id}, errs.Newf(errs.ErrKindUnknownStorageSystem, "storage system %q matches no known pattern", id)
}
