package main

import (
	"fmt"
	"strings"

	"github.com/rpcpool/docbuf/vtable"
	"github.com/rpcpool/docbuf/wire"
)

// noteVTable is the demo schema docbufd operates on. DocBuf's IDL
// lexer/parser and derive-macro reflection glue are explicitly out of
// scope for the core (spec §1); a real deployment would generate this from
// a schema file. docbufd instead ships one fixed schema so every core
// operation (put/get/scan/stat/migrate) has something concrete to exercise
// end to end.
func noteVTable() *vtable.VTable {
	v := vtable.New("docbufd", "Note")
	v.AddStruct(vtable.Struct{
		Name:      "Note",
		NumFields: 2,
		Fields: []vtable.Field{
			{
				Index: 0,
				Name:  "author",
				Type:  vtable.FieldType{Kind: vtable.KindString},
				Rules: vtable.FieldRules{PartitionKey: true, MaxLength: uint64Ptr(256)},
			},
			{
				Index: 1,
				Name:  "body",
				Type:  vtable.FieldType{Kind: vtable.KindString},
				Rules: vtable.FieldRules{MaxLength: uint64Ptr(1 << 20)},
			},
		},
	})
	return v
}

func uint64Ptr(v uint64) *uint64 { return &v }

// parseFieldFlags turns repeated `--field name=value` flags into a
// GenericDocument, the stand-in Document implementation used throughout
// docbufd (see wire.GenericDocument).
func parseFieldFlags(structName string, fields []string) (*wire.GenericDocument, error) {
	doc := wire.NewGenericDocument(structName)
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --field value %q, want name=value", f)
		}
		doc.Values[name] = value
	}
	return doc, nil
}
