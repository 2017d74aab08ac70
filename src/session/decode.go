package session

import "encoding/json"

// remarshal round-trips an untyped (decoded-JSON) value through JSON
// into a concrete struct. Client events arrive as map[string]any after
// the gateway's own JSON decode, so this is the simplest faithful way
// to recover a typed payload.
func remarshal(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
