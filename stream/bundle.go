// Package stream reads the entries of FHIR Bundles from an io.Reader
// without holding the raw document in memory.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Entry is one resource read from a bundle.
type Entry struct {
	// Index is the position of the entry in the bundle, or -1 for an error
	// about the bundle itself
	Index int

	// FullURL is the fullUrl of the entry (if present)
	FullURL string

	// Resource is the entry's resource, nil when the entry has none
	Resource map[string]any

	// Err is set if the entry could not be read
	Err error
}

// ResourceType returns the type of the entry's resource, or "".
func (e Entry) ResourceType() string {
	rt, _ := e.Resource["resourceType"].(string)
	return rt
}

// Decoder reads bundle entries.
type Decoder struct {
	bufferSize int
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{bufferSize: 100}
}

// WithBufferSize sets the channel buffer size.
func (d *Decoder) WithBufferSize(size int) *Decoder {
	if size > 0 {
		d.bufferSize = size
	}
	return d
}

// Entries streams the entries of the bundle in r in document order. A
// document that is a single resource rather than a Bundle yields that
// resource as the only entry. The channel is closed when the document is
// exhausted, on the first bundle-level error, or when ctx is done.
func (d *Decoder) Entries(ctx context.Context, r io.Reader) <-chan Entry {
	out := make(chan Entry, d.bufferSize)

	go func() {
		defer close(out)
		send := func(e Entry) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- e:
				return true
			}
		}
		fail := func(err error) {
			send(Entry{Index: -1, Err: err})
		}

		decoder := json.NewDecoder(r)
		token, err := decoder.Token()
		if err != nil {
			fail(fmt.Errorf("failed to read bundle: %w", err))
			return
		}
		if delim, ok := token.(json.Delim); !ok || delim != '{' {
			fail(fmt.Errorf("expected object start, got %v", token))
			return
		}

		// Top-level fields other than entry are kept so that a plain
		// resource can be returned whole.
		fields := make(map[string]any)
		sawEntries := false

		for decoder.More() {
			if err := ctx.Err(); err != nil {
				return
			}
			token, err := decoder.Token()
			if err != nil {
				fail(fmt.Errorf("failed to read field: %w", err))
				return
			}
			name, _ := token.(string)

			if name == "entry" {
				sawEntries = true
				if !d.entries(ctx, decoder, send) {
					return
				}
				continue
			}

			var value any
			if err := decoder.Decode(&value); err != nil {
				fail(fmt.Errorf("failed to read field %s: %w", name, err))
				return
			}
			fields[name] = value
		}

		if rt, _ := fields["resourceType"].(string); rt != "Bundle" && !sawEntries {
			send(Entry{Index: 0, Resource: fields})
		}
	}()

	return out
}

// entries streams the entry array. It returns false when reading must stop.
func (d *Decoder) entries(ctx context.Context, decoder *json.Decoder, send func(Entry) bool) bool {
	token, err := decoder.Token()
	if err != nil {
		send(Entry{Index: -1, Err: fmt.Errorf("failed to read entry array: %w", err)})
		return false
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		send(Entry{Index: -1, Err: fmt.Errorf("expected array start, got %v", token)})
		return false
	}

	index := 0
	for decoder.More() {
		if ctx.Err() != nil {
			return false
		}

		var raw struct {
			FullURL  string         `json:"fullUrl"`
			Resource map[string]any `json:"resource"`
		}
		entry := Entry{Index: index}
		if err := decoder.Decode(&raw); err != nil {
			entry.Err = fmt.Errorf("failed to decode entry %d: %w", index, err)
			send(entry)
			return false
		}
		entry.FullURL = raw.FullURL
		entry.Resource = raw.Resource
		if !send(entry) {
			return false
		}
		index++
	}

	if _, err := decoder.Token(); err != nil {
		send(Entry{Index: -1, Err: fmt.Errorf("failed to close entry array: %w", err)})
		return false
	}
	return true
}

// ReadAll collects every entry of the bundle in r. The first error stops
// reading and is returned.
func ReadAll(ctx context.Context, r io.Reader) ([]Entry, error) {
	var entries []Entry
	for e := range NewDecoder().Entries(ctx, r) {
		if e.Err != nil {
			return nil, e.Err
		}
		entries = append(entries, e)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
