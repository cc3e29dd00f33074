package llm

import (
	"fmt"
	"os"

	"dinechain/models"

	"gopkg.in/yaml.v3"
)

// DefaultSeed is used when no prompt file is configured. It carries only the order
// output contract; restaurant persona and menu belong in the prompt file.
var DefaultSeed = []models.Turn{
	{
		Role: models.RoleSystem,
		Content: "You are a friendly restaurant assistant taking food and drink orders over chat. " +
			"Only help with the menu, quantities and order details. Ask for the customer's name and " +
			"whether they dine in or want home delivery (and the address). When the customer confirms " +
			"the order, give a short summary under the heading 'Your Order:' and finish with a JSON block " +
			"fenced as ```json containing {\"items\": [{\"name\": string, \"price\": integer cents, " +
			"\"quantity\": integer}], \"total\": integer cents, \"delivery_info\": string}. The total must " +
			"equal the sum of price times quantity. Do not mention payment; the system will ask for it.",
	},
}

type promptFile struct {
	Turns []models.Turn `yaml:"turns"`
}

// LoadSeed reads the seed transcript from a YAML file. An empty path returns DefaultSeed.
func LoadSeed(path string) ([]models.Turn, error) {
	if path == "" {
		return DefaultSeed, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	if len(pf.Turns) == 0 {
		return nil, fmt.Errorf("prompt file %s has no turns", path)
	}
	for i, t := range pf.Turns {
		switch t.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			return nil, fmt.Errorf("prompt file %s: turn %d has invalid role %q", path, i, t.Role)
		}
	}
	return pf.Turns, nil
}
