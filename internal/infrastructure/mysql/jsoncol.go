package mysql

import "encoding/json"

// jsonCol marshals v for storage in a JSON column, panicking only on a
// programmer error (an unmarshalable type never reaches this layer).
func jsonCol(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("mysql: marshal json column: " + err.Error())
	}
	return b
}

func unmarshalCol(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
