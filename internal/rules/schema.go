package rules

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchema validates the JSON shape of an authored definition before
// the referential checks in Validate run. Compiled once at init; the schema
// source is embedded so authoring never depends on an on-disk schema dir.
var definitionSchema = mustCompile("definition.schema.json", definitionSchemaJSON)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "trigger_kind", "actions"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "trigger_kind": {"enum": ["button", "form"]},
    "trigger_config": {
      "type": "object",
      "properties": {
        "button_label": {"type": "string"},
        "button_style": {"type": "string"},
        "form_prompt": {"type": "string"}
      }
    },
    "conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "operator"],
        "properties": {
          "type": {"enum": ["currency", "item", "group"]},
          "operator": {"enum": ["gte", "lte", "eq_zero", "has", "not_has"]},
          "amount": {"type": "integer", "minimum": 0},
          "item_id": {"type": "string"},
          "group_id": {"type": "string"},
          "logic": {"enum": ["AND", "OR"]}
        }
      }
    },
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"enum": ["give_currency", "give_item", "give_group", "remove_group", "display_text", "follow_up"]},
          "order": {"type": "integer", "minimum": 0},
          "execute_on": {"type": "string"},
          "currency": {
            "type": "object",
            "required": ["amount"],
            "properties": {
              "operation": {"enum": ["give", "remove"]},
              "amount": {"type": "integer", "minimum": 1},
              "limit": {"$ref": "#/$defs/limit"}
            }
          },
          "item": {
            "type": "object",
            "required": ["item_id", "quantity"],
            "properties": {
              "operation": {"enum": ["give", "remove"]},
              "item_id": {"type": "string", "minLength": 1},
              "quantity": {"type": "integer", "minimum": 1},
              "limit": {"$ref": "#/$defs/limit"}
            }
          },
          "group": {
            "type": "object",
            "required": ["group_id"],
            "properties": {
              "group_id": {"type": "string", "minLength": 1},
              "limit": {"$ref": "#/$defs/limit"}
            }
          },
          "display": {
            "type": "object",
            "required": ["text"],
            "properties": {
              "title": {"type": "string"},
              "text": {"type": "string", "minLength": 1}
            }
          },
          "follow_up": {
            "type": "object",
            "required": ["definition_id"],
            "properties": {
              "definition_id": {"type": "string", "minLength": 1},
              "label": {"type": "string"}
            }
          }
        }
      }
    },
    "locations": {"type": "array", "items": {"type": "string"}},
    "meta": {"type": "object"}
  },
  "$defs": {
    "limit": {
      "type": "object",
      "properties": {
        "type": {"enum": ["unlimited", "once_per_principal", "once_global"]},
        "claimed_by": {"type": "array", "items": {"type": "string"}},
        "claimed_once": {"type": "string"}
      }
    }
  }
}`
