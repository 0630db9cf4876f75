package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// parseParams decodes the JSON parameter array handed across the boundary.
// Numbers are kept as json.Number so integer parameters survive without a
// float round-trip; an empty string means no parameters.
func parseParams(paramsJSON string) ([]interface{}, error) {
	if paramsJSON == "" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(paramsJSON)))
	dec.UseNumber()

	var params []interface{}
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("bad params json: %w", err)
	}
	return params, nil
}
