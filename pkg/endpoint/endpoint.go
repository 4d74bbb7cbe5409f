// Package endpoint parses the restricted URL syntax this client accepts
// (http(s)://[user[:pass]@]host[:port]/path) into an Endpoint.
package endpoint

import "strings"

const (
	schemePlain = "http://"
	schemeTLS   = "https://"

	defaultPlainPort = "80"
	defaultTLSPort   = "443"
)

// Endpoint is a parsed URL: authority plus optional credentials and path.
// A nil field means the component was absent from the input; an empty
// string means it was present but zero-length (e.g. "http://host:/").
// This distinction matches the source recognizer exactly and several
// concrete test vectors depend on it.
type Endpoint struct {
	TLS      bool
	Host     *string
	Port     *string // populated only when TLS is false
	TLSPort  *string // populated only when TLS is true
	Path     *string
	User     *string
	Password *string
}

// Port default is "80" for plain endpoints and "443" for TLS ones, applied
// only when the URL did not specify one.
func (e *Endpoint) EffectivePort() string {
	if e.TLS {
		if e.TLSPort != nil {
			return *e.TLSPort
		}
		return defaultTLSPort
	}
	if e.Port != nil {
		return *e.Port
	}
	return defaultPlainPort
}

// EffectiveHost returns the host, or "" if the URL never set one.
func (e *Endpoint) EffectiveHost() string {
	if e.Host == nil {
		return ""
	}
	return *e.Host
}

// EffectivePath returns the path with its leading slash stripped, or "" if
// the URL never set one. A parsed nil path and an empty parsed path both
// yield "" here; the distinction only matters to Split's test vectors.
func (e *Endpoint) EffectivePath() string {
	if e.Path == nil {
		return ""
	}
	return strings.TrimPrefix(*e.Path, "/")
}

type state int

const (
	findUser state = iota
	findPass
	findHost
	findPort
	findPath
	done
)

// Split parses raw into an Endpoint using the five-state recognizer:
// FIND_USER -> FIND_PASS -> FIND_HOST -> FIND_PORT -> FIND_PATH -> DONE.
// It scans left to right, splitting on the first occurrence of ':', '@',
// '/', or end of string. The second return value reports whether raw began
// with a recognized scheme; it says nothing about the validity of the
// parsed parts.
func Split(raw string) (*Endpoint, bool) {
	var tls bool
	var rest string
	switch {
	case strings.HasPrefix(raw, schemeTLS):
		tls = true
		rest = raw[len(schemeTLS):]
	case strings.HasPrefix(raw, schemePlain):
		tls = false
		rest = raw[len(schemePlain):]
	default:
		return nil, false
	}

	ep := &Endpoint{TLS: tls}

	st := findUser
	if rest == "" {
		st = done
	}

	assignStart := 0
	pos := 0
	for st != done {
		var c byte
		atEnd := pos >= len(rest)
		if !atEnd {
			c = rest[pos]
		}

		var assign **string
		var next state

		switch st {
		case findUser:
			switch {
			case !atEnd && c == ':':
				assign, next = &ep.User, findPass
			case !atEnd && c == '@':
				assign, next = &ep.User, findHost
			case !atEnd && c == '/':
				assign, next = &ep.Host, findPath
			case atEnd:
				assign, next = &ep.Host, done
			}

		case findPass:
			switch {
			case !atEnd && c == '@':
				assign, next = &ep.Password, findHost
			case !atEnd && c == '/':
				assign = portField(ep)
				next = findPath
			case atEnd:
				assign = portField(ep)
				next = done
			}

		case findHost:
			switch {
			case !atEnd && c == ':':
				assign, next = &ep.Host, findPort
			case !atEnd && c == '/':
				assign, next = &ep.Host, findPath
			case atEnd:
				assign, next = &ep.Host, done
			}

		case findPort:
			switch {
			case !atEnd && c == '/':
				assign = portField(ep)
				next = findPath
			case atEnd:
				assign = portField(ep)
				next = done
			}

		case findPath:
			if atEnd {
				assign, next = &ep.Path, done
			}
		}

		if assign != nil {
			slice := rest[assignStart:pos]
			*assign = &slice
			assignStart = pos + 1
			st = next
		}

		pos++
	}

	// Fixup: a bare "host:port/path" with no credentials is initially
	// misread as user="host", port="port". If we ended with a user but no
	// host and a port was captured, the "user" was really the host.
	if ep.User != nil && ep.Host == nil && *portField(ep) != nil {
		ep.Host = ep.User
		ep.User = nil
	}

	return ep, true
}

// portField returns the address of whichever port field applies for this
// endpoint's scheme, so the state machine can stay scheme-agnostic.
func portField(ep *Endpoint) **string {
	if ep.TLS {
		return &ep.TLSPort
	}
	return &ep.Port
}
