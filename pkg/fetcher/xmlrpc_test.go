package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEncodeCall(t *testing.T) {
	payload, err := encodeCall("getTaskDescendents", []any{int64(42), map[string]any{"limit": 10, "order": "-id"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(payload)

	for _, want := range []string{
		"<methodName>getTaskDescendents</methodName>",
		"<int>42</int>",
		"<name>limit</name>",
		"<int>10</int>",
		"<string>-id</string>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("encoded call missing %q:\n%s", want, got)
		}
	}
}

func TestDecodeResponseScalars(t *testing.T) {
	body := `<?xml version="1.0"?>
<methodResponse><params><param><value>
  <struct>
    <member><name>id</name><value><int>7</int></value></member>
    <member><name>name</name><value><string>vim</string></value></member>
    <member><name>ratio</name><value><double>0.5</double></value></member>
    <member><name>done</name><value><boolean>1</boolean></value></member>
    <member><name>bare</name><value>untyped</value></member>
    <member><name>tags</name><value><array><data>
      <value><string>a</string></value>
      <value><int>2</int></value>
    </data></array></value></member>
  </struct>
</value></param></params></methodResponse>`

	value, err := decodeResponse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	result, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected struct, got %T", value)
	}
	if result["id"] != int64(7) {
		t.Fatalf("unexpected id: %v", result["id"])
	}
	if result["name"] != "vim" {
		t.Fatalf("unexpected name: %v", result["name"])
	}
	if result["ratio"] != 0.5 {
		t.Fatalf("unexpected ratio: %v", result["ratio"])
	}
	if result["done"] != true {
		t.Fatalf("unexpected done: %v", result["done"])
	}
	if result["bare"] != "untyped" {
		t.Fatalf("unexpected bare value: %v", result["bare"])
	}
	tags, ok := result["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" || tags[1] != int64(2) {
		t.Fatalf("unexpected tags: %v", result["tags"])
	}
}

func TestDecodeResponseFault(t *testing.T) {
	body := `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><int>1000</int></value></member>
  <member><name>faultString</name><value><string>no such method</string></value></member>
</struct></value></fault></methodResponse>`

	_, err := decodeResponse(strings.NewReader(body))
	if err == nil {
		t.Fatal("expected fault error")
	}
	fault, ok := err.(*xmlrpcFault)
	if !ok {
		t.Fatalf("expected xmlrpcFault, got %T: %v", err, err)
	}
	if fault.Code != 1000 || fault.Detail != "no such method" {
		t.Fatalf("unexpected fault: %+v", fault)
	}
}

func TestClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "<methodName>hello</methodName>") {
			t.Errorf("unexpected request body: %s", body)
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0"?>
<methodResponse><params><param><value><string>world</string></value></param></params></methodResponse>`)
	}))
	defer srv.Close()

	client := newXMLRPCClient(srv.URL, 5*time.Second)
	value, err := client.call(context.Background(), "hello", "there")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if value != "world" {
		t.Fatalf("unexpected result: %v", value)
	}
}
