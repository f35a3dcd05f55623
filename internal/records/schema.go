package records

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://snipsync.local/schema/"

var recordSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	collections := []string{CollectionCategories, CollectionSubcategories, CollectionSnippets}
	for _, collection := range collections {
		raw, err := schemaFiles.ReadFile("schema/" + collection + ".json")
		if err != nil {
			panic(fmt.Sprintf("read %s schema: %v", collection, err))
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("parse %s schema: %v", collection, err))
		}
		if err := compiler.AddResource(schemaBaseURL+collection+".json", doc); err != nil {
			panic(fmt.Sprintf("add %s schema: %v", collection, err))
		}
	}
	out := make(map[string]*jsonschema.Schema, len(collections))
	for _, collection := range collections {
		schema, err := compiler.Compile(schemaBaseURL + collection + ".json")
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", collection, err))
		}
		out[collection] = schema
	}
	return out
}

// ValidateRecord checks one raw record from the store against the
// collection's schema.
func ValidateRecord(collection string, raw []byte) error {
	schema, ok := recordSchemas[collection]
	if !ok {
		return &InvalidRecordError{Collection: collection, Err: fmt.Errorf("unknown collection")}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &InvalidRecordError{Collection: collection, Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &InvalidRecordError{Collection: collection, Err: err}
	}
	return nil
}
