// internal/cardano/metadata.go
package cardano

// Transaction metadata labels used by the registry dispatchers.
const (
	MetadataLabelAgent   = 721
	MetadataLabelMessage = 674
)

// StringToMetadata prepares a UTF-8 string for a transaction metadata field.
// Metadata strings are capped at 64 bytes on chain, so longer values become
// a list of chunks. Chunk boundaries never split a rune.
func StringToMetadata(s string) interface{} {
	if len(s) <= 64 {
		return s
	}

	var chunks []string
	var current []rune
	currentLen := 0
	for _, r := range s {
		runeLen := len(string(r))
		if currentLen+runeLen > 64 {
			chunks = append(chunks, string(current))
			current = current[:0]
			currentLen = 0
		}
		current = append(current, r)
		currentLen += runeLen
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// AgentMetadataInput carries the registry fields that go into the 721 label.
type AgentMetadataInput struct {
	Name              string
	Description       string
	APIBaseURL        string
	CapabilityName    string
	CapabilityVersion string
	Author            map[string]interface{}
	Legal             map[string]interface{}
	Tags              []string
	ExampleOutputs    []string
	PricingType       string
	Pricing           []PricingEntry
	MetadataVersion   int
}

type PricingEntry struct {
	Unit   string
	Amount int64
}

// BuildAgentMetadata assembles the auxiliary metadata for a registration
// mint: label 721 with the agent record under policy id and asset name, and
// label 674 with the protocol message.
func BuildAgentMetadata(policyID, assetName string, in AgentMetadataInput, message string) map[uint64]interface{} {
	agent := map[string]interface{}{
		"name":        StringToMetadata(in.Name),
		"description": StringToMetadata(in.Description),
		"api_url":     StringToMetadata(in.APIBaseURL),
		"capability": map[string]interface{}{
			"name":    StringToMetadata(in.CapabilityName),
			"version": StringToMetadata(in.CapabilityVersion),
		},
		"metadata_version": in.MetadataVersion,
	}

	if len(in.Author) > 0 {
		author := make(map[string]interface{}, len(in.Author))
		for k, v := range in.Author {
			if s, ok := v.(string); ok {
				author[k] = StringToMetadata(s)
			} else {
				author[k] = v
			}
		}
		agent["author"] = author
	}

	if len(in.Legal) > 0 {
		legal := make(map[string]interface{}, len(in.Legal))
		for k, v := range in.Legal {
			if s, ok := v.(string); ok {
				legal[k] = StringToMetadata(s)
			} else {
				legal[k] = v
			}
		}
		agent["legal"] = legal
	}

	if len(in.Tags) > 0 {
		tags := make([]interface{}, len(in.Tags))
		for i, t := range in.Tags {
			tags[i] = StringToMetadata(t)
		}
		agent["tags"] = tags
	}

	if len(in.ExampleOutputs) > 0 {
		outputs := make([]interface{}, len(in.ExampleOutputs))
		for i, o := range in.ExampleOutputs {
			outputs[i] = StringToMetadata(o)
		}
		agent["example_outputs"] = outputs
	}

	pricing := map[string]interface{}{"type": in.PricingType}
	if len(in.Pricing) > 0 {
		amounts := make([]interface{}, len(in.Pricing))
		for i, p := range in.Pricing {
			unit := p.Unit
			if unit == "" {
				unit = LovelaceUnit
			}
			amounts[i] = map[string]interface{}{
				"unit":   StringToMetadata(unit),
				"amount": p.Amount,
			}
		}
		pricing["amounts"] = amounts
	}
	agent["pricing"] = pricing

	return map[uint64]interface{}{
		MetadataLabelAgent: map[string]interface{}{
			policyID: map[string]interface{}{
				assetName: agent,
			},
		},
		MetadataLabelMessage: map[string]interface{}{
			"msg": []interface{}{"Masumi", message},
		},
	}
}
