package protocolsrc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// definitionSchema is the contract every protocol.yaml must satisfy. A
// missing or malformed document is a hard error, never a guess.
const definitionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "version", "entrypoint"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"version": {"type": "string", "minLength": 1},
		"entrypoint": {"type": "string", "minLength": 1},
		"parameters": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"optional": {"type": "boolean"},
					"default": {}
				}
			}
		},
		"assets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"kind": {"type": "string", "enum": ["device", "resource"]},
					"optional": {"type": "boolean"},
					"location": {
						"type": "object",
						"properties": {
							"deck": {"type": "string"},
							"slot": {"type": "string"}
						}
					}
				}
			}
		},
		"state": {
			"type": "object",
			"properties": {
				"parameter": {"type": "string"},
				"shape": {"type": "string", "enum": ["store", "snapshot"]}
			}
		},
		"deck_parameter": {"type": "string"}
	}
}`

var compiledDefinitionSchema = jsonschema.MustCompileString("protocol.schema.json", definitionSchema)

type definitionDocument struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Entrypoint string `yaml:"entrypoint"`
	Parameters []struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Optional bool   `yaml:"optional"`
		Default  any    `yaml:"default"`
	} `yaml:"parameters"`
	Assets []struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Kind     string `yaml:"kind"`
		Optional bool   `yaml:"optional"`
		Location *struct {
			Deck string `yaml:"deck"`
			Slot string `yaml:"slot"`
		} `yaml:"location"`
	} `yaml:"assets"`
	State *struct {
		Parameter string `yaml:"parameter"`
		Shape     string `yaml:"shape"`
	} `yaml:"state"`
	DeckParameter string `yaml:"deck_parameter"`
}

// ParseDefinition validates a protocol.yaml document and converts it into a
// domain definition. Source and commit identity is stamped by the caller.
func ParseDefinition(raw []byte) (domain.ProtocolDefinition, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return domain.ProtocolDefinition{}, fmt.Errorf("decode definition document: %w", err)
	}
	jsonValue, err := toJSONValue(generic)
	if err != nil {
		return domain.ProtocolDefinition{}, fmt.Errorf("normalize definition document: %w", err)
	}
	if err := compiledDefinitionSchema.Validate(jsonValue); err != nil {
		verr := &ValidationError{}
		verr.Add(err.Error())
		return domain.ProtocolDefinition{}, verr
	}

	var doc definitionDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.ProtocolDefinition{}, fmt.Errorf("decode definition document: %w", err)
	}

	def := domain.ProtocolDefinition{
		Name:          strings.TrimSpace(doc.Name),
		Version:       strings.TrimSpace(doc.Version),
		Entrypoint:    strings.TrimSpace(doc.Entrypoint),
		DeckParameter: strings.TrimSpace(doc.DeckParameter),
	}
	for _, p := range doc.Parameters {
		def.Parameters = append(def.Parameters, domain.ParameterSpec{
			Name:     strings.TrimSpace(p.Name),
			Type:     strings.TrimSpace(p.Type),
			Optional: p.Optional,
			Default:  p.Default,
		})
	}
	for _, a := range doc.Assets {
		req := domain.AssetRequirement{
			Name:           strings.TrimSpace(a.Name),
			TypeConstraint: strings.TrimSpace(a.Type),
			Kind:           domain.AssetKind(strings.TrimSpace(a.Kind)),
			Optional:       a.Optional,
		}
		if req.Kind == "" {
			req.Kind = domain.AssetKindResource
		}
		if a.Location != nil {
			req.Location = &domain.Location{DeckID: strings.TrimSpace(a.Location.Deck), Slot: strings.TrimSpace(a.Location.Slot)}
		}
		def.Assets = append(def.Assets, req)
	}
	if doc.State != nil {
		def.StateParameter = strings.TrimSpace(doc.State.Parameter)
		def.StateShape = domain.StateMode(strings.TrimSpace(doc.State.Shape))
	}
	if err := def.Validate(); err != nil {
		verr := &ValidationError{}
		verr.Add(err.Error())
		return domain.ProtocolDefinition{}, verr
	}
	return def, nil
}

// toJSONValue round-trips a YAML-decoded value through encoding/json so the
// schema validator sees the simple types it expects.
func toJSONValue(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
