package goextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/brunobiangulo/goextract/container"
	"github.com/brunobiangulo/goextract/parser"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
		part string
	}{
		{"truncated", fmt.Errorf("%w: 2 bytes", parser.ErrTruncated), KindTruncatedInput, ""},
		{"unrecognized", parser.ErrUnrecognized, KindUnrecognizedFormat, ""},
		{"variant", fmt.Errorf("%w: encrypted pdf", parser.ErrUnsupportedVariant), KindUnsupportedVariant, ""},
		{"corrupt part", &parser.PartError{Part: "xl/workbook.xml", Err: container.ErrCorruptPart}, KindCorruptedPart, "xl/workbook.xml"},
		{"malformed", fmt.Errorf("%w: bad", parser.ErrMalformed), KindCorruptedPart, ""},
		{"oversize", &parser.PartError{Part: "ppt/media/big.bin", Err: container.ErrPartTooLarge}, KindResourceLimitExceeded, "ppt/media/big.bin"},
		{"output", parser.ErrOutputLimit, KindResourceLimitExceeded, ""},
		{"deadline", fmt.Errorf("walking: %w", context.DeadlineExceeded), KindResourceLimitExceeded, ""},
		{"path", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, KindIOFailure, ""},
		{"read", fmt.Errorf("%w: %w", container.ErrCorruptContainer, &readError{err: errors.New("eio")}), KindIOFailure, ""},
		{"unexpected", errors.New("something else"), KindCorruptedPart, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if got.Kind != tt.want || got.Part != tt.part {
				t.Errorf("classify(%v) = %v/%q, want %v/%q", tt.err, got.Kind, got.Part, tt.want, tt.part)
			}
			if !errors.Is(got, tt.err) {
				t.Error("cause must stay reachable")
			}
		})
	}
}

func TestClassifyKeepsClassified(t *testing.T) {
	orig := &Error{Kind: KindIOFailure, Err: errors.New("x")}
	if got := classify(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Errorf("classify re-wrapped a classified error: %v", got)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) must be nil")
	}
}

func TestErrorIs(t *testing.T) {
	err := error(&Error{Kind: KindTruncatedInput, Err: parser.ErrTruncated})
	if !errors.Is(err, ErrTruncatedInput) {
		t.Error("expected ErrTruncatedInput to match")
	}
	for _, other := range []error{ErrUnrecognizedFormat, ErrUnsupportedVariant, ErrCorruptedPart, ErrResourceLimitExceeded, ErrIOFailure} {
		if errors.Is(err, other) {
			t.Errorf("%v must not match", other)
		}
	}
	if got := err.Error(); got != "goextract: TruncatedInput: "+parser.ErrTruncated.Error() {
		t.Errorf("Error() = %q", got)
	}
	withPart := &Error{Kind: KindCorruptedPart, Part: "a.xml", Err: errors.New("bad")}
	if got := withPart.Error(); got != "goextract: CorruptedPart in a.xml: bad" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindText(t *testing.T) {
	for k := KindUnrecognizedFormat; k <= KindIOFailure; k++ {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("Nope"); ok {
		t.Error("ParseKind accepted an unknown name")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf of an unclassified error must be 0")
	}
}

func TestDiagnosticJSON(t *testing.T) {
	in := []Diagnostic{
		{Part: "word/footnotes.xml", Kind: KindCorruptedPart, Err: errors.New("unexpected EOF")},
		{Part: "ppt/media/huge.bin", Kind: KindResourceLimitExceeded, Err: errors.New("too large")},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out []Diagnostic
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d diagnostics", len(out))
	}
	for i := range in {
		if out[i].Part != in[i].Part || out[i].Kind != in[i].Kind || out[i].Err.Error() != in[i].Err.Error() {
			t.Errorf("diagnostic %d = %v, want %v", i, out[i], in[i])
		}
	}
	if err := json.Unmarshal([]byte(`[{"part":"x","kind":"Bogus","cause":""}]`), &out); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}
