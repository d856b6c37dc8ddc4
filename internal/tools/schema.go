package tools

import "bytes"

func mustJSONReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
