package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Record is the external shape of a queued request used by export files and the
// bulk sync endpoint. Timestamp is unix milliseconds.
type Record struct {
	ID             int64             `json:"id,omitempty"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           json.RawMessage   `json:"body"`
	BodyType       BodyKind          `json:"bodyType,omitempty"`
	ContentType    string            `json:"contentType,omitempty"`
	Timestamp      int64             `json:"timestamp"`
	SessionToken   string            `json:"sessionToken"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// ToRecord converts a stored request into its external shape.
func (r Request) ToRecord() (Record, error) {
	body, err := r.Body.Wire()
	if err != nil {
		return Record{}, fmt.Errorf("render body for entry %d: %w", r.ID, err)
	}
	return Record{
		ID:             r.ID,
		URL:            r.URL,
		Method:         r.Method,
		Headers:        r.Headers,
		Body:           body,
		BodyType:       r.Body.Kind,
		ContentType:    r.Body.ContentType,
		Timestamp:      r.Timestamp.UnixMilli(),
		SessionToken:   r.SessionToken,
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

// ToRequest converts an external record back into a request without an id.
func (rec Record) ToRequest() (Request, error) {
	body, err := BodyFromWire(rec.BodyType, rec.ContentType, rec.Body)
	if err != nil {
		return Request{}, err
	}
	req := Request{
		URL:            rec.URL,
		Method:         rec.Method,
		Headers:        rec.Headers,
		Body:           body,
		SessionToken:   rec.SessionToken,
		IdempotencyKey: rec.IdempotencyKey,
	}
	if rec.Timestamp > 0 {
		req.Timestamp = time.UnixMilli(rec.Timestamp).UTC()
	}
	return req, nil
}

// ExportDocument is the file written by Export.
type ExportDocument struct {
	ExportedAt time.Time `json:"exportedAt"`
	Entries    []Record  `json:"entries"`
}

// Export writes every pending entry as a JSON document and returns the entry count.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	doc := ExportDocument{ExportedAt: time.Now().UTC(), Entries: make([]Record, 0, len(pending))}
	for _, req := range pending {
		rec, err := req.ToRecord()
		if err != nil {
			return 0, err
		}
		doc.Entries = append(doc.Entries, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(doc.Entries), nil
}

// Import re-enqueues the entries of an export document in their original order.
// Entries receive new ids. Import stops at the first failure and reports how
// many entries were stored before it.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("read export: %w", err)
	}
	imported := 0
	for idx, rec := range doc.Entries {
		req, err := rec.ToRequest()
		if err != nil {
			return imported, fmt.Errorf("entry %d: %w", idx, err)
		}
		if _, err := s.Enqueue(ctx, req); err != nil {
			return imported, fmt.Errorf("entry %d: %w", idx, err)
		}
		imported++
	}
	return imported, nil
}
