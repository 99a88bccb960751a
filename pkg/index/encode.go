package index

import "encoding/json"

// EncodeMessage serializes m for publication onto the "index" subject.
// JSON is sufficient here — these are internal bus envelopes, not
// content-addressed objects, so no canonical/deterministic encoding
// is required the way pkg/object's codec needs one.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
