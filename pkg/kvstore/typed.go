package kvstore

// Typed adapts a byte-level Backend to a single stored kind (message
// bodies, milestone diffs, unspent outputs, ...), each of which gets its
// own key/value codec and, conventionally, its own key prefix so several
// Typed stores can share one Backend (spec.md §6: "the store does not
// care what it stores, only the caller does").
type Typed[K comparable, V any] struct {
	backend   Backend
	prefix    []byte
	encodeKey func(K) []byte
	encodeVal func(V) []byte
	decodeVal func([]byte) (V, error)
}

// NewTyped builds a typed view over backend. prefix is prepended to every
// encoded key so unrelated Typed stores sharing one Backend never collide.
func NewTyped[K comparable, V any](backend Backend, prefix []byte, encodeKey func(K) []byte, encodeVal func(V) []byte, decodeVal func([]byte) (V, error)) *Typed[K, V] {
	return &Typed[K, V]{backend: backend, prefix: prefix, encodeKey: encodeKey, encodeVal: encodeVal, decodeVal: decodeVal}
}

func (t *Typed[K, V]) key(k K) []byte {
	return append(append([]byte{}, t.prefix...), t.encodeKey(k)...)
}

// Fetch returns the decoded value for k, if present.
func (t *Typed[K, V]) Fetch(k K) (V, bool, error) {
	var zero V
	raw, found, err := t.backend.Fetch(t.key(k))
	if err != nil || !found {
		return zero, false, err
	}
	v, err := t.decodeVal(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Insert stores v under k.
func (t *Typed[K, V]) Insert(k K, v V) error {
	return t.backend.Insert(t.key(k), t.encodeVal(v))
}

// Delete removes k.
func (t *Typed[K, V]) Delete(k K) error {
	return t.backend.Delete(t.key(k))
}

// Exists reports whether k is stored.
func (t *Typed[K, V]) Exists(k K) (bool, error) {
	return t.backend.Exists(t.key(k))
}

// FetchBatch decodes every value for the given keys that is present,
// skipping (rather than failing on) keys that are absent.
func (t *Typed[K, V]) FetchBatch(keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		v, found, err := t.Fetch(k)
		if err != nil {
			return nil, err
		}
		if found {
			out[k] = v
		}
	}
	return out, nil
}

// InsertBatch stores every key/value pair atomically at the backend level.
func (t *Typed[K, V]) InsertBatch(items map[K]V) error {
	encoded := make(map[string][]byte, len(items))
	for k, v := range items {
		encoded[string(t.key(k))] = t.encodeVal(v)
	}
	return t.backend.InsertBatch(encoded)
}
