package journey

// definitionSchema is the shape contract for user-submitted journey
// definitions, checked before the structural graph checks so malformed JSON
// never reaches them.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["nodes", "edges"],
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 2,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"enum": ["trigger", "wait", "email", "split", "exit"]},
					"name": {"type": "string"},
					"trigger": {
						"type": "object",
						"required": ["kind"],
						"properties": {
							"kind": {"enum": ["event", "segment"]},
							"event_name": {"type": "string"},
							"segment_id": {"type": "string"},
							"condition": {"$ref": "#/definitions/condition"}
						}
					},
					"wait": {
						"type": "object",
						"properties": {
							"duration": {"type": "integer", "minimum": 1},
							"unit": {"enum": ["minutes", "hours", "days"]},
							"until": {"type": "string", "format": "date-time"}
						}
					},
					"email": {
						"type": "object",
						"required": ["template_id", "profile_id", "channel"],
						"properties": {
							"template_id": {"type": "string", "minLength": 1},
							"profile_id": {"type": "string", "minLength": 1},
							"channel": {"type": "string", "minLength": 1}
						}
					},
					"split": {
						"type": "object",
						"required": ["condition"],
						"properties": {
							"condition": {"$ref": "#/definitions/condition"}
						}
					}
				}
			}
		},
		"edges": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "source", "target"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1},
					"branch": {"enum": ["yes", "no"]}
				}
			}
		}
	},
	"definitions": {
		"condition": {
			"type": "object",
			"required": ["operator", "criteria"],
			"properties": {
				"operator": {"enum": ["and", "or"]},
				"criteria": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["type", "field", "operator"],
						"properties": {
							"type": {"enum": ["property", "event"]},
							"field": {"type": "string", "minLength": 1},
							"operator": {"type": "string", "minLength": 1}
						}
					}
				}
			}
		}
	}
}`
