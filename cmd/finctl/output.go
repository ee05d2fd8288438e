package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/validation"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError writes the error and, for engine errors, its kind and evidence.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)

	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		return
	}
	fmt.Fprintln(w, "  kind:", kind)

	evidence := apperrors.EvidenceOf(err)
	keys := make([]string, 0, len(evidence))
	for k := range evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, merr := json.Marshal(evidence[k])
		if merr != nil {
			fmt.Fprintf(w, "  %s: %v\n", k, evidence[k])
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", k, b)
	}
}

// invalidRequest turns field validation failures into an invalid_request
// error carrying the fields as evidence, matching the HTTP problem body.
func invalidRequest(err error) error {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return apperrors.New(apperrors.KindInvalidRequest, "request validation failed").With("fields", verr.Fields)
	}
	return err
}
