package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"lightcycle/internal/net/proto"
)

// envelopeDocument mirrors the wire form of proto.Envelope, whose type field
// is encoded as its string tag.
type envelopeDocument struct {
	Type        string `json:"type" jsonschema:"required,description=Message type tag"`
	Destination string `json:"destination" jsonschema:"required,description=Global from clients; everyone or everyone-but-<id> or <id> from the relay"`
	Content     any    `json:"content,omitempty" jsonschema:"description=Type-specific payload"`
	Time        int64  `json:"time" jsonschema:"required,description=Unix milliseconds at send time"`
	From        string `json:"from,omitempty" jsonschema:"description=Sender id stamped by the relay"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(envelopeDocument))
	schema.Title = "Lightcycle Envelope"
	schema.Description = "Every message exchanged between clients and the relay."

	if prop, ok := schema.Properties.Get("type"); ok {
		if typeSchema, ok := prop.(*jsonschema.Schema); ok {
			for i := 1; i < proto.TypeCount; i++ {
				typeSchema.Enum = append(typeSchema.Enum, proto.MessageType(i).String())
			}
		}
	}

	schema.Definitions = jsonschema.Definitions{
		"Alert":    contentSchema(&reflector, new(proto.Alert), "Content of Alert envelopes."),
		"Position": contentSchema(&reflector, new(proto.Position), "Content of position update envelopes."),
	}
	return schema
}

func contentSchema(reflector *jsonschema.Reflector, v any, description string) *jsonschema.Schema {
	s := reflector.Reflect(v)
	s.Version = ""
	s.Description = description
	return s
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
