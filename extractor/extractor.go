// Package extractor pulls the structured order out of an assistant reply.
//
// The reply is untrusted text: a payload is accepted only when exactly one ```json block is
// present, it validates against orderSchema, and its total equals the sum of its items.
// Anything else is reported as "no order" and the caller relays the text unchanged.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"dinechain/models"

	"github.com/xeipuuv/gojsonschema"
)

const orderSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["items", "total"],
  "properties": {
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "price"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "price": { "type": "integer", "minimum": 0 },
          "quantity": { "type": "integer", "minimum": 1 }
        }
      }
    },
    "total": { "type": "integer", "minimum": 1 },
    "delivery_info": { "type": "string" }
  }
}`

var (
	orderSchemaLoader = gojsonschema.NewStringLoader(orderSchema)
	fencePattern      = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")
)

// Payload is a validated order as emitted by the LLM.
type Payload struct {
	Items    []models.LineItem
	Total    int64
	Delivery string
}

// Result carries the payload and the human-readable text that preceded the JSON block.
type Result struct {
	Payload Payload
	Text    string
}

type rawPayload struct {
	Items []struct {
		Name     string `json:"name"`
		Price    int64  `json:"price"`
		Quantity *int   `json:"quantity"`
	} `json:"items"`
	Total        int64  `json:"total"`
	DeliveryInfo string `json:"delivery_info"`
}

// Extract returns the order found in text, or false when there is none or it is invalid.
func Extract(text string) (*Result, bool) {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) != 1 {
		return nil, false
	}
	m := matches[0]
	body := []byte(strings.TrimSpace(text[m[2]:m[3]]))

	result, err := gojsonschema.Validate(orderSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil || !result.Valid() {
		return nil, false
	}

	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	p := Payload{Total: raw.Total, Delivery: strings.TrimSpace(raw.DeliveryInfo)}
	for _, it := range raw.Items {
		qty := 1
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		p.Items = append(p.Items, models.LineItem{Name: strings.TrimSpace(it.Name), Price: it.Price, Quantity: qty})
	}
	if models.SumItems(p.Items) != p.Total {
		return nil, false
	}

	return &Result{Payload: p, Text: strings.TrimSpace(text[:m[0]])}, true
}

// Summary renders the items and total as plain text lines.
func Summary(items []models.LineItem, total int64) string {
	return models.FormatItems(items) + "\nTotal: " + models.FormatMoney(total)
}
