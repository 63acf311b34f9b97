package outbox_test

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"testing"

	"schoolsync/internal/outbox"
)

func buildMultipart(t *testing.T) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("first_name", "Awa"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := w.CreateFormFile("photo", "awa.jpg")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := part.Write([]byte{0xff, 0xd8, 0x00, 0x01}); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes(), w.FormDataContentType()
}

func TestNormalizeMultipartConvertsFilesToBase64(t *testing.T) {
	data, contentType := buildMultipart(t)

	body, err := outbox.NormalizeBody(contentType, data)
	if err != nil {
		t.Fatalf("NormalizeBody failed: %v", err)
	}
	if body.Kind != outbox.BodyForm {
		t.Fatalf("expected form kind, got %q", body.Kind)
	}
	if len(body.Form) != 2 {
		t.Fatalf("expected two fields, got %#v", body.Form)
	}
	if body.Form[0].Name != "first_name" || body.Form[0].Value != "Awa" {
		t.Fatalf("unexpected text field %#v", body.Form[0])
	}
	file := body.Form[1].File
	if file == nil || file.Filename != "awa.jpg" {
		t.Fatalf("expected file part, got %#v", body.Form[1])
	}
	if file.Data != base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0x00, 0x01}) {
		t.Fatalf("unexpected base64 data %q", file.Data)
	}
}

func TestEncodeRebuildsMultipartWithFreshBoundary(t *testing.T) {
	data, contentType := buildMultipart(t)
	body, err := outbox.NormalizeBody(contentType, data)
	if err != nil {
		t.Fatalf("NormalizeBody failed: %v", err)
	}

	encoded, newType, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	mediaType, params, err := mime.ParseMediaType(newType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("unexpected content type %q: %v", newType, err)
	}
	reader := multipart.NewReader(bytes.NewReader(encoded), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm failed: %v", err)
	}
	if got := form.Value["first_name"]; len(got) != 1 || got[0] != "Awa" {
		t.Fatalf("unexpected first_name %v", got)
	}
	files := form.File["photo"]
	if len(files) != 1 || files[0].Filename != "awa.jpg" {
		t.Fatalf("unexpected files %#v", files)
	}
	f, err := files[0].Open()
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()
	content, _ := io.ReadAll(f)
	if !bytes.Equal(content, []byte{0xff, 0xd8, 0x00, 0x01}) {
		t.Fatalf("unexpected file content %v", content)
	}
}

func TestNormalizeBodyKinds(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        outbox.BodyKind
	}{
		{name: "empty", contentType: "application/json", data: nil, want: outbox.BodyEmpty},
		{name: "json", contentType: "application/json; charset=utf-8", data: []byte(`{"a":1}`), want: outbox.BodyJSON},
		{name: "invalid json kept as text", contentType: "application/json", data: []byte(`{"a":`), want: outbox.BodyText},
		{name: "plain text", contentType: "text/plain", data: []byte("hello"), want: outbox.BodyText},
		{name: "urlencoded", contentType: "application/x-www-form-urlencoded", data: []byte("a=1&b=2"), want: outbox.BodyForm},
		{name: "binary", contentType: "application/octet-stream", data: []byte{0xff, 0xfe, 0x00}, want: outbox.BodyBinary},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, err := outbox.NormalizeBody(tc.contentType, tc.data)
			if err != nil {
				t.Fatalf("NormalizeBody failed: %v", err)
			}
			if body.Kind != tc.want {
				t.Fatalf("got kind %q want %q", body.Kind, tc.want)
			}
			encoded, _, err := body.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if tc.want == outbox.BodyForm {
				values, _ := url.ParseQuery(string(encoded))
				if values.Get("a") != "1" || values.Get("b") != "2" {
					t.Fatalf("unexpected urlencoded round trip %q", encoded)
				}
				return
			}
			if !bytes.Equal(encoded, tc.data) {
				t.Fatalf("round trip mismatch: got %q want %q", encoded, tc.data)
			}
		})
	}
}

func TestURLEncodedKeepsFieldOrder(t *testing.T) {
	raw := "status=ABSENT&student=S2&note=late+bus%21&student=S1"
	body, err := outbox.NormalizeBody("application/x-www-form-urlencoded", []byte(raw))
	if err != nil {
		t.Fatalf("NormalizeBody: %v", err)
	}
	var names []string
	for _, field := range body.Form {
		names = append(names, field.Name)
	}
	if got := fmt.Sprint(names); got != "[status student note student]" {
		t.Fatalf("field order = %s", got)
	}
	if body.Form[2].Value != "late bus!" {
		t.Fatalf("unexpected decoded value %q", body.Form[2].Value)
	}
	encoded, contentType, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(encoded) != raw || contentType != "application/x-www-form-urlencoded" {
		t.Fatalf("replayed body %q (%s), want %q", encoded, contentType, raw)
	}
}

func TestWireShapes(t *testing.T) {
	jsonBody := outbox.Body{Kind: outbox.BodyJSON, Text: `{"student":"S1"}`}
	raw, err := jsonBody.Wire()
	if err != nil || string(raw) != `{"student":"S1"}` {
		t.Fatalf("json wire = %s, %v", raw, err)
	}
	textBody := outbox.Body{Kind: outbox.BodyText, Text: "hi"}
	raw, err = textBody.Wire()
	if err != nil || string(raw) != `"hi"` {
		t.Fatalf("text wire = %s, %v", raw, err)
	}
	back, err := outbox.BodyFromWire("", "", []byte(`{"student":"S1"}`))
	if err != nil || back.Kind != outbox.BodyJSON {
		t.Fatalf("expected json body from object, got %#v %v", back, err)
	}
}
