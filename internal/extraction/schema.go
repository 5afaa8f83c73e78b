package extraction

import "github.com/sashabaranov/go-openai/jsonschema"

const schemaName = "processing_result"

func stringList(desc string) jsonschema.Definition {
	return jsonschema.Definition{
		Type:        jsonschema.Array,
		Description: desc,
		Items:       &jsonschema.Definition{Type: jsonschema.String},
	}
}

func arrayOf(desc string, item jsonschema.Definition) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Array, Description: desc, Items: &item}
}

func str(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

// ResultSchema is the response schema every provider is asked to follow.
func ResultSchema() *jsonschema.Definition {
	clientDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"id":          str("existing client id when known"),
			"name":        str("client full name"),
			"company":     str(""),
			"role":        str(""),
			"painPoints":  stringList(""),
			"goals":       stringList(""),
			"personality": str(""),
			"preferences": stringList(""),
			"notes":       str(""),
		},
		Required: []string{"name"},
	}
	brandDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"name":        str(""),
			"voice":       str(""),
			"audience":    str(""),
			"positioning": str(""),
			"values":      stringList(""),
			"offerings":   stringList(""),
			"notes":       str(""),
		},
	}
	performerDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"performerId": str("id from the performer roster"),
			"role":        str(""),
			"description": str(""),
		},
		Required: []string{"performerId"},
	}
	calendarDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"date":        str("YYYY-MM-DD"),
			"title":       str(""),
			"description": str(""),
			"time":        str("HH:MM, optional"),
		},
		Required: []string{"date", "title"},
	}
	knowledgeDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"source":   str("entity name"),
			"relation": str("lowercase verb such as mentions, uses, works-with"),
			"target":   str("entity name"),
			"tags":     stringList(""),
		},
		Required: []string{"source", "relation", "target"},
	}
	interactionDef := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"kind":         str("call, meeting, message, ..."),
			"summary":      str(""),
			"participants": stringList(""),
			"sentiment":    str("positive, neutral or negative"),
			"intrigue":     {Type: jsonschema.Number, Description: "0 to 10"},
			"date":         str("YYYY-MM-DD, optional"),
		},
		Required: []string{"summary"},
	}

	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"clientUpdates":        arrayOf("", clientDef),
			"brandUpdates":         brandDef,
			"performerUpdates":     arrayOf("", performerDef),
			"calendarEntries":      arrayOf("", calendarDef),
			"knowledgeConnections": arrayOf("", knowledgeDef),
			"interactionEvents":    arrayOf("", interactionDef),
			"rerankedRelevance":    {Type: jsonschema.Number, Description: "relevance of the memory, 0 to 10"},
			"reasoning":            str("why the relevance changed"),
		},
		Required: []string{
			"clientUpdates", "performerUpdates", "calendarEntries",
			"knowledgeConnections", "interactionEvents", "rerankedRelevance", "reasoning",
		},
	}
}
