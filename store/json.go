package store

import (
	"encoding/json"
	"log"
)

// A DecodeError means a stored item exists but could not be unserialized.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding " + e.Key + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// A JSONStore wraps a Store and provides a store which serializes its items as
// JSON instead of using streams. It does not cache the results of
// serialization/deserialization. Since it deals with interface{} instead of
// readers and writers, a JSONStore does not match the Store interface.
//
// Items are written indented with a trailing newline, and the encoding is
// deterministic, so saving a value that was just opened reproduces the same
// bytes.
type JSONStore struct {
	Store
}

// NewJSON creates a new JSONStore using the provided store for its storage.
func NewJSON(s Store) JSONStore {
	return JSONStore{s}
}

// Open the item having the given key and unserialize it into value. It
// returns ErrNotFound if there is no such item, and a *DecodeError if the item
// is not valid JSON for value.
func (js JSONStore) Open(key string, value interface{}) error {
	r, _, err := js.Store.Open(key)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(NewReader(r))
	err = dec.Decode(value)
	if err != nil {
		err = &DecodeError{Key: key, Err: err}
	}
	err2 := r.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(key, err2)
	}
	return err
}

// Save the value under the given key, replacing any existing value.
func (js JSONStore) Save(key string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return WriteAll(js.Store, key, data)
}
