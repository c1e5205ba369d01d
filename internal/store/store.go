// Package store defines the shared real-time store the coordinator and the
// worker pool use to exchange prompts, conditions and results.
//
// The store is a path-addressable tree of JSON records. Paths use "/" as the
// separator and never start or end with one ("promptcondition/12:00:00:000").
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidPath = errors.New("store: invalid path")
	ErrClosed      = errors.New("store: closed")
)

// Snapshot is the value found at Path at some instant. A nil Raw means the
// path holds nothing.
type Snapshot struct {
	Path string
	Raw  json.RawMessage
}

func (s Snapshot) Exists() bool { return len(s.Raw) > 0 }

// Decode unmarshals the snapshot into v. Decoding a missing value is a no-op.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Raw, v)
}

// UpdateFn receives the current value at a path and returns the value to
// commit. Returning current.Raw leaves the record as it is; returning nil
// removes it. A non-nil error aborts the transaction.
type UpdateFn func(current Snapshot) (any, error)

// Subscription is a live change subscription. Unsubscribe is idempotent and
// does not wait for an in-flight callback, so it may be called from inside
// the callback itself.
type Subscription interface {
	Unsubscribe()
}

// Store is the contract every backend implements.
//
// Subscribe delivers the current value first and then every change, one
// callback at a time and in order for a given subscription. Callbacks run on
// a backend goroutine, never on the caller's.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	Transaction(ctx context.Context, path string, fn UpdateFn) (Snapshot, error)
	Remove(ctx context.Context, path string) error
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
	Close() error
}

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// CleanPath validates p and strips surrounding slashes.
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || strings.ContainsAny(seg, ".#$[]") {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// Parent returns the parent path of p, or "" for a root-level path.
func Parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Ancestors returns every proper ancestor of p, nearest first.
func Ancestors(p string) []string {
	var out []string
	for q := Parent(p); q != ""; q = Parent(q) {
		out = append(out, q)
	}
	return out
}

// Encode marshals v into the canonical stored form. nil, JSON null and
// empty objects encode to nil: like the hosted database, an empty node
// does not exist.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	var raw json.RawMessage
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = json.RawMessage(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return Normalize(raw), nil
}

// Normalize maps null and {} to nil and returns raw otherwise.
func Normalize(raw json.RawMessage) json.RawMessage {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	if t[0] == '{' {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(t, &m); err == nil && len(m) == 0 {
			return nil
		}
	}
	return raw
}

// Related reports whether a change at changed can alter the value seen at
// watched: the paths are equal or one contains the other.
func Related(watched, changed string) bool {
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}

// AssembleTree builds the object value of the interior node base from its
// descendant leaves, keyed by full path.
func AssembleTree(base string, leaves map[string]json.RawMessage) (json.RawMessage, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	root := map[string]any{}
	for p, v := range leaves {
		rel := strings.TrimPrefix(p, base+"/")
		segs := strings.Split(rel, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[seg] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = v
	}
	return json.Marshal(root)
}
