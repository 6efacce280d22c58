package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeArgs unmarshals the JSON arguments of a tool call into v. Blank args
// leave v untouched. Models occasionally emit truncated or loosely quoted
// JSON, so a syntax error triggers one repair attempt before giving up.
func DecodeArgs(args string, v any) error {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	err := json.Unmarshal([]byte(args), v)
	var syntaxErr *json.SyntaxError
	if err == nil || !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(args)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
