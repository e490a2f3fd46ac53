// Package compat decides once per process whether a caller's schema version may
// talk to this engine. Only the major component of a major.minor.patch version
// is compared. The decision is fail-closed: an unparseable version blocks.
package compat

import (
	"strconv"
	"strings"

	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

type State string

const (
	StateUnchecked  State = "UNCHECKED"
	StateCompatible State = "COMPATIBLE"
	StateBlocked    State = "BLOCKED"
)

// Context is constructed once at startup and handed to every component
// constructor. It is immutable after NewContext returns, so reads need no lock.
// The zero value is UNCHECKED and rejects every call.
type Context struct {
	callerVersion string
	engineVersion string
	state         State
}

func NewContext(callerVersion string, engineVersion string) *Context {
	c := &Context{
		callerVersion: strings.TrimSpace(callerVersion),
		engineVersion: strings.TrimSpace(engineVersion),
		state:         StateBlocked,
	}
	callerMajor, okCaller := Major(c.callerVersion)
	engineMajor, okEngine := Major(c.engineVersion)
	if okCaller && okEngine && callerMajor == engineMajor {
		c.state = StateCompatible
	}
	return c
}

func (c *Context) State() State {
	if c == nil || c.state == "" {
		return StateUnchecked
	}
	return c.state
}

func (c *Context) CallerVersion() string {
	if c == nil {
		return ""
	}
	return c.callerVersion
}

func (c *Context) EngineVersion() string {
	if c == nil {
		return ""
	}
	return c.engineVersion
}

// Check must be the first statement of every engine operation.
func (c *Context) Check() error {
	if c.State() == StateCompatible {
		return nil
	}
	return &metaerr.VersionMismatchError{CallerVersion: c.CallerVersion(), EngineVersion: c.EngineVersion()}
}

// Major parses the major component of a three-part version, tolerating a leading "v".
func Major(version string) (int, bool) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return 0, false
		}
	}
	major, _ := strconv.Atoi(parts[0])
	if major < 0 {
		return 0, false
	}
	return major, true
}
