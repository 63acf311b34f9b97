package outbox

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"unicode/utf8"
)

// BodyKind identifies how a stored body is encoded.
type BodyKind string

const (
	BodyEmpty  BodyKind = "empty"
	BodyJSON   BodyKind = "json"
	BodyText   BodyKind = "text"
	BodyForm   BodyKind = "form"
	BodyBinary BodyKind = "binary"
)

// Body is a request payload in a storable form. Binary data never appears raw;
// file parts and non-UTF-8 payloads are base64 encoded.
type Body struct {
	Kind        BodyKind    `json:"kind"`
	ContentType string      `json:"content_type,omitempty"`
	Text        string      `json:"text,omitempty"`
	Form        []FormField `json:"form,omitempty"`
}

// FormField is one multipart or urlencoded field.
type FormField struct {
	Name  string    `json:"name"`
	Value string    `json:"value,omitempty"`
	File  *FormFile `json:"file,omitempty"`
}

// FormFile is a file part converted to base64.
type FormFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data"`
}

// NormalizeBody converts a raw payload and its Content-Type into a Body.
func NormalizeBody(contentType string, data []byte) (Body, error) {
	if len(data) == 0 {
		return Body{Kind: BodyEmpty, ContentType: contentType}, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return normalizeMultipart(contentType, params["boundary"], data)
	case mediaType == "application/x-www-form-urlencoded":
		fields, err := parseURLEncoded(string(data))
		if err != nil {
			return Body{}, fmt.Errorf("parse urlencoded body: %w", err)
		}
		return Body{Kind: BodyForm, ContentType: mediaType, Form: fields}, nil
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if !json.Valid(data) {
			return Body{Kind: BodyText, ContentType: contentType, Text: string(data)}, nil
		}
		return Body{Kind: BodyJSON, ContentType: contentType, Text: string(data)}, nil
	case utf8.Valid(data):
		return Body{Kind: BodyText, ContentType: contentType, Text: string(data)}, nil
	default:
		return Body{Kind: BodyBinary, ContentType: contentType, Text: base64.StdEncoding.EncodeToString(data)}, nil
	}
}

// parseURLEncoded keeps fields in the order the caller sent them.
func parseURLEncoded(data string) ([]FormField, error) {
	var fields []FormField
	for pair := range strings.SplitSeq(data, "&") {
		if pair == "" {
			continue
		}
		rawName, rawValue, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", rawName, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, FormField{Name: name, Value: value})
	}
	return fields, nil
}

func normalizeMultipart(contentType, boundary string, data []byte) (Body, error) {
	if boundary == "" {
		return Body{}, errors.New("multipart body without boundary")
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	body := Body{Kind: BodyForm, ContentType: mediaType}
	reader := multipart.NewReader(bytes.NewReader(data), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Body{}, fmt.Errorf("read multipart: %w", err)
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return Body{}, fmt.Errorf("read multipart field %q: %w", part.FormName(), err)
		}
		field := FormField{Name: part.FormName()}
		if filename := part.FileName(); filename != "" {
			field.File = &FormFile{
				Filename:    filename,
				ContentType: part.Header.Get("Content-Type"),
				Data:        base64.StdEncoding.EncodeToString(content),
			}
		} else {
			field.Value = string(content)
		}
		body.Form = append(body.Form, field)
		_ = part.Close()
	}
	return body, nil
}

// Encode rebuilds the wire payload. Multipart bodies receive a fresh boundary, so
// the returned content type must replace the captured one.
func (b Body) Encode() ([]byte, string, error) {
	switch b.Kind {
	case BodyEmpty, "":
		return nil, b.ContentType, nil
	case BodyJSON, BodyText:
		return []byte(b.Text), b.ContentType, nil
	case BodyBinary:
		data, err := base64.StdEncoding.DecodeString(b.Text)
		if err != nil {
			return nil, "", fmt.Errorf("decode binary body: %w", err)
		}
		return data, b.ContentType, nil
	case BodyForm:
		if b.isURLEncoded() {
			pairs := make([]string, 0, len(b.Form))
			for _, field := range b.Form {
				pairs = append(pairs, url.QueryEscape(field.Name)+"="+url.QueryEscape(field.Value))
			}
			return []byte(strings.Join(pairs, "&")), "application/x-www-form-urlencoded", nil
		}
		return b.encodeMultipart()
	default:
		return nil, "", fmt.Errorf("unknown body kind %q", b.Kind)
	}
}

func (b Body) isURLEncoded() bool {
	if b.ContentType == "application/x-www-form-urlencoded" {
		for _, field := range b.Form {
			if field.File != nil {
				return false
			}
		}
		return true
	}
	return false
}

func (b Body) encodeMultipart() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, field := range b.Form {
		if field.File == nil {
			if err := writer.WriteField(field.Name, field.Value); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", field.Name, err)
			}
			continue
		}
		data, err := base64.StdEncoding.DecodeString(field.File.Data)
		if err != nil {
			return nil, "", fmt.Errorf("decode file %q: %w", field.File.Filename, err)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     field.Name,
			"filename": field.File.Filename,
		}))
		ctype := field.File.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		header.Set("Content-Type", ctype)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create part %q: %w", field.Name, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write part %q: %w", field.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// Wire renders the body in the export and bulk-sync shape: a JSON value for JSON
// bodies, an object for forms (file parts as data URLs), a string otherwise.
func (b Body) Wire() (json.RawMessage, error) {
	switch b.Kind {
	case BodyJSON:
		return json.RawMessage(b.Text), nil
	case BodyForm:
		obj := make(map[string]any, len(b.Form))
		for _, field := range b.Form {
			value := field.Value
			if field.File != nil {
				ctype := field.File.ContentType
				if ctype == "" {
					ctype = "application/octet-stream"
				}
				value = "data:" + ctype + ";base64," + field.File.Data
			}
			switch existing := obj[field.Name].(type) {
			case nil:
				obj[field.Name] = value
			case string:
				obj[field.Name] = []string{existing, value}
			case []string:
				obj[field.Name] = append(existing, value)
			}
		}
		return json.Marshal(obj)
	default:
		return json.Marshal(b.Text)
	}
}

// BodyFromWire reverses Wire for imports.
func BodyFromWire(kind BodyKind, contentType string, raw json.RawMessage) (Body, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		return Body{Kind: BodyEmpty, ContentType: contentType}, nil
	}
	switch kind {
	case BodyForm:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Body{}, fmt.Errorf("form body must be an object: %w", err)
		}
		body := Body{Kind: BodyForm, ContentType: contentType}
		for _, name := range sortedKeys(obj) {
			var values []string
			if err := json.Unmarshal(obj[name], &values); err != nil {
				var single string
				if err := json.Unmarshal(obj[name], &single); err != nil {
					return Body{}, fmt.Errorf("form field %q: %w", name, err)
				}
				values = []string{single}
			}
			for _, v := range values {
				body.Form = append(body.Form, formFieldFromWire(name, v))
			}
		}
		return body, nil
	case BodyText, BodyBinary:
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Body{}, fmt.Errorf("%s body must be a string: %w", kind, err)
		}
		return Body{Kind: kind, ContentType: contentType, Text: text}, nil
	default:
		if trimmed[0] == '"' {
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return Body{}, err
			}
			return Body{Kind: BodyText, ContentType: contentType, Text: text}, nil
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return Body{Kind: BodyJSON, ContentType: contentType, Text: string(trimmed)}, nil
	}
}

func formFieldFromWire(name, value string) FormField {
	rest, ok := strings.CutPrefix(value, "data:")
	if !ok {
		return FormField{Name: name, Value: value}
	}
	meta, data, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return FormField{Name: name, Value: value}
	}
	return FormField{Name: name, File: &FormFile{Filename: name, ContentType: meta, Data: data}}
}

// Size approximates the stored footprint in bytes.
func (b Body) Size() int {
	size := len(b.Text) + len(b.ContentType)
	for _, field := range b.Form {
		size += len(field.Name) + len(field.Value)
		if field.File != nil {
			size += len(field.File.Filename) + len(field.File.ContentType) + len(field.File.Data)
		}
	}
	return size
}
