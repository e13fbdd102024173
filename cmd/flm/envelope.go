package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// envelopeVersion is the fixed schema version every JSON envelope carries,
// so scripted callers can detect a breaking format change up front.
const envelopeVersion = "1.0"

type successEnvelope struct {
	Version string `json:"version"`
	Data    any    `json:"data"`
}

type errorEnvelope struct {
	Version string    `json:"version"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// emitData prints data either as the JSON envelope or via renderText,
// depending on the --format flag every subcommand shares.
func emitData(data any, renderText func()) error {
	if globalFlags.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(successEnvelope{Version: envelopeVersion, Data: data})
	}
	renderText()
	return nil
}

// emitError prints err either as the JSON error envelope or as a plain
// message to stderr, then returns a non-nil error so cobra exits non-zero.
// It never writes the JSON envelope to stderr: scripted callers parsing
// stdout must see exactly one well-formed JSON document there.
func emitError(err error) error {
	code := "internal"
	if fe, ok := asFlmError(err); ok {
		code = fe.Code()
	}
	if globalFlags.format == "json" {
		_ = json.NewEncoder(os.Stdout).Encode(errorEnvelope{Version: envelopeVersion, Error: errorBody{Code: code, Message: err.Error()}})
		return err
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
	return err
}

func asFlmError(err error) (*flmerr.Error, bool) {
	fe, ok := err.(*flmerr.Error)
	return fe, ok
}
