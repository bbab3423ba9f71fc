package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// xmlrpcClient is a minimal XML-RPC client covering the subset of the
// protocol the Koji hub uses: ints, strings, booleans, doubles, structs
// and arrays.
type xmlrpcClient struct {
	endpoint   string
	httpClient *http.Client
}

func newXMLRPCClient(endpoint string, timeout time.Duration) *xmlrpcClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &xmlrpcClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type xmlrpcFault struct {
	Code   int64
	Detail string
}

func (f *xmlrpcFault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Detail)
}

// call invokes method with the given positional arguments and returns the
// decoded result value.
func (c *xmlrpcClient) call(ctx context.Context, method string, args ...any) (any, error) {
	body, err := encodeCall(method, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s call: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%s failed: %s: %s", method, resp.Status, strings.TrimSpace(string(payload)))
	}

	value, err := decodeResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return value, nil
}

func encodeCall(method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	_ = xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param>")
		if err := encodeValue(&buf, arg); err != nil {
			return nil, err
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString("<value>")
	switch val := v.(type) {
	case nil:
		buf.WriteString("<nil/>")
	case bool:
		if val {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case int:
		fmt.Fprintf(buf, "<int>%d</int>", val)
	case int64:
		fmt.Fprintf(buf, "<int>%d</int>", val)
	case float64:
		fmt.Fprintf(buf, "<double>%g</double>", val)
	case string:
		buf.WriteString("<string>")
		_ = xml.EscapeText(buf, []byte(val))
		buf.WriteString("</string>")
	case map[string]any:
		buf.WriteString("<struct>")
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString("<member><name>")
			_ = xml.EscapeText(buf, []byte(k))
			buf.WriteString("</name>")
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	case []any:
		buf.WriteString("<array><data>")
		for _, item := range val {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	default:
		return fmt.Errorf("unsupported xmlrpc type %T", v)
	}
	buf.WriteString("</value>")
	return nil
}

func decodeResponse(r io.Reader) (any, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "fault":
			value, err := nextValue(dec)
			if err != nil {
				return nil, err
			}
			return nil, faultFrom(value)
		case "param":
			return nextValue(dec)
		}
	}
}

func faultFrom(value any) error {
	fault := &xmlrpcFault{Detail: "unknown"}
	if members, ok := value.(map[string]any); ok {
		if code, ok := members["faultCode"].(int64); ok {
			fault.Code = code
		}
		if detail, ok := members["faultString"].(string); ok {
			fault.Detail = detail
		}
	}
	return fault
}

// nextValue advances to the next <value> element and decodes it.
func nextValue(dec *xml.Decoder) (any, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "value" {
			return decodeValue(dec)
		}
	}
}

// decodeValue decodes the contents of an already-opened <value> element,
// consuming through its end tag. Untyped content decodes as a string.
func decodeValue(dec *xml.Decoder) (any, error) {
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return text.String(), nil
		case xml.StartElement:
			value, err := decodeTyped(dec, t.Name.Local)
			if err != nil {
				return nil, err
			}
			if err := skipToEnd(dec, "value"); err != nil {
				return nil, err
			}
			return value, nil
		}
	}
}

func decodeTyped(dec *xml.Decoder, kind string) (any, error) {
	switch kind {
	case "nil":
		return nil, skipToEnd(dec, kind)
	case "int", "i4", "i8":
		text, err := elementText(dec, kind)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case "double":
		text, err := elementText(dec, kind)
		if err != nil {
			return nil, err
		}
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	case "boolean":
		text, err := elementText(dec, kind)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(text) == "1", nil
	case "string", "dateTime.iso8601", "base64":
		return elementText(dec, kind)
	case "struct":
		return decodeStruct(dec)
	case "array":
		return decodeArray(dec)
	default:
		return nil, fmt.Errorf("unsupported xmlrpc element <%s>", kind)
	}
}

func decodeStruct(dec *xml.Decoder) (map[string]any, error) {
	result := map[string]any{}
	var name string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				text, err := elementText(dec, "name")
				if err != nil {
					return nil, err
				}
				name = text
			case "value":
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				result[name] = value
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return result, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) ([]any, error) {
	var result []any
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				result = append(result, value)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return result, nil
			}
		}
	}
}

func elementText(dec *xml.Decoder, name string) (string, error) {
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == name {
				return text.String(), nil
			}
		}
	}
}

func skipToEnd(dec *xml.Decoder, name string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if end, ok := tok.(xml.EndElement); ok && end.Name.Local == name {
			return nil
		}
	}
}
