// Package flmerr implements the single closed error taxonomy used across
// every FLM component, mirroring the way Caddy's admin API wraps errors in
// a typed APIError carrying an HTTP status and cause (see caddy's admin.go).
package flmerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed set of error categories a component may
// return. Exactly these values appear anywhere in the system.
type Kind string

const (
	KindConfig      Kind = "config"
	KindNotFound    Kind = "not_found"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindBlocked     Kind = "blocked"
	KindPolicy      Kind = "policy"
	KindTLS         Kind = "tls"
	KindCertificate Kind = "certificate"
	KindACME        Kind = "acme"
	KindEngine      Kind = "engine"
	KindRepo        Kind = "repo"
	KindInternal    Kind = "internal"
)

// EngineReason refines KindEngine errors.
type EngineReason string

const (
	EngineNetwork            EngineReason = "network"
	EngineAPI                EngineReason = "api"
	EngineInvalidResponse    EngineReason = "invalid_response"
	EngineUnsupportedOp      EngineReason = "unsupported_operation"
)

// RepoReason refines KindRepo errors.
type RepoReason string

const (
	RepoIO         RepoReason = "io"
	RepoMigration  RepoReason = "migration"
	RepoReadOnly   RepoReason = "read_only"
	RepoValidation RepoReason = "validation"
)

// Error is the concrete error type every FLM component returns. It carries
// enough structure for both HTTP translation (internal/proxy) and CLI JSON
// envelopes (cmd/flm) without either layer needing to parse strings.
type Error struct {
	Kind Kind
	// EngineID identifies the offending engine for KindEngine errors.
	EngineID string
	// EngineReason/RepoReason refine KindEngine/KindRepo errors.
	EngineReason EngineReason
	RepoReason   RepoReason
	// Path is set for certificate errors that were working on a specific file.
	Path string
	// RetryAfterSeconds is set for KindRateLimited errors.
	RetryAfterSeconds int
	Msg               string
	Cause             error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns a short machine-readable code for the CLI/API JSON envelope.
func (e *Error) Code() string {
	switch e.Kind {
	case KindEngine:
		if e.EngineReason != "" {
			return string(e.Kind) + "." + string(e.EngineReason)
		}
	case KindRepo:
		if e.RepoReason != "" {
			return string(e.Kind) + "." + string(e.RepoReason)
		}
	}
	return string(e.Kind)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Cause: cause, Msg: msg}
}

func WithPath(kind Kind, cause error, path string) *Error {
	return &Error{Kind: kind, Cause: cause, Path: path}
}

func Engine(engineID string, reason EngineReason, cause error) *Error {
	return &Error{Kind: KindEngine, EngineID: engineID, EngineReason: reason, Cause: cause}
}

func Repo(reason RepoReason, cause error) *Error {
	return &Error{Kind: KindRepo, RepoReason: reason, Cause: cause}
}

// Is allows errors.Is(err, flmerr.KindNotFound) style checks against a bare
// Kind value by implementing a sentinel comparison via As.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
