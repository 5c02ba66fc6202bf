package parser

import (
	"fmt"

	"github.com/mdwit/spec2call/internal/model"
)

// ParseError единая ошибка разбора документа
type ParseError struct {
	Format model.SpecFormat
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	prefix := "parse"
	if e.Format != model.FormatUnknown {
		prefix = "parse " + string(e.Format)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(format model.SpecFormat, err error, msg string, args ...any) *ParseError {
	return &ParseError{Format: format, Msg: fmt.Sprintf(msg, args...), Err: err}
}
