package plugin

// manifestSchema is the JSON Schema applied to every manifest at load time.
// It covers the structural rules only: required fields, the type enum and a
// basic numeric-dot version pattern. The deeper advisory rules live in
// SchemaValidator.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "type", "main"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "string",
      "pattern": "^\\d+\\.\\d+\\.\\d+"
    },
    "type": {
      "type": "string",
      "enum": ["theme", "config-parser", "ui-component", "validator", "exporter"]
    },
    "main": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "author": {
      "type": "string"
    },
    "dependencies": {
      "type": "array",
      "items": {
        "anyOf": [
          { "type": "string", "minLength": 1 },
          {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": { "type": "string", "minLength": 1 },
              "version": { "type": "string" }
            }
          }
        ]
      }
    },
    "config": {
      "type": "object"
    },
    "permissions": {
      "type": "array",
      "items": { "type": "string" }
    }
  }
}`
