package describe

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Document is the serialized form: the description and its diagnostics.
type Document struct {
	Description *APIDescription `json:"description"`
	Diagnostics []Diagnostic    `json:"diagnostics"`
}

// Encode writes d and diags as indented JSON.
func Encode(w io.Writer, d *APIDescription, diags []Diagnostic) error {
	if diags == nil {
		diags = []Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{Description: d, Diagnostics: diags}); err != nil {
		return fmt.Errorf("describe: encode: %w", err)
	}
	return nil
}

// Decode reads a document written by Encode.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("describe: decode: %w", err)
	}
	return &doc, nil
}
