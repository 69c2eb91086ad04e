package wechat

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

var errMalformedXML = errors.New("malformed_xml")

// decodeXML flattens a one-level <xml> document into a string map. The
// v2 protocol never nests, so any child of a child is malformed input.
func decodeXML(payload []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	params := make(map[string]string)

	depth := 0
	var field string
	var value strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errMalformedXML
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if depth > 2 {
				return nil, errMalformedXML
			}
			if depth == 2 {
				field = t.Name.Local
				value.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				value.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && field != "" {
				params[field] = strings.TrimSpace(value.String())
				field = ""
			}
			depth--
		}
	}
	if len(params) == 0 {
		return nil, errMalformedXML
	}
	return params, nil
}
