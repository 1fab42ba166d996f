package ledger

import (
	"encoding/json"

	"github.com/cbroglie/mustache"
)

// memoTemplate is the agreement terms carried on the settlement transaction.
const memoTemplate = `{
  "agreement": "{{agreementID}}",
  "dataset_id": "{{datasetID}}",
  "owner": "{{{owner}}}",
  "user": "{{{user}}}",
  "price": {{price}},
  {{#accessDuration}}"access_duration": "{{accessDuration}}",{{/accessDuration}}
  "status": "pending"
}`

// Memo renders the agreement terms of an intent as compact JSON.
func Memo(intent Intent) (string, error) {
	viewModel := map[string]interface{}{
		"agreementID":    intent.AgreementID.String(),
		"datasetID":      intent.DatasetID.String(),
		"owner":          jsonEscape(intent.To),
		"user":           jsonEscape(intent.From),
		"price":          intent.Amount,
		"accessDuration": intent.AccessDuration,
	}
	res, err := mustache.Render(memoTemplate, viewModel)
	if err != nil {
		return "", err
	}
	return cleanupJSON(res)
}

// jsonEscape returns s escaped for use inside a JSON string literal.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

func cleanupJSON(value string) (string, error) {
	var parsedValue interface{}
	if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
		return "", err
	}
	cleanValue, err := json.Marshal(parsedValue)
	if err != nil {
		return "", err
	}
	return string(cleanValue), nil
}
