// Package memorystore implements storage.Store in a purely in-memory manner.
package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dpup/qavault/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() storage.Store {
	return &store{
		data: map[string]map[string][]byte{},
	}
}

type store struct {
	// store[tableName][entityID] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range models {
		if s.data[storage.Name(m)][m.PK()] != nil {
			return storage.ErrAlreadyExists
		}
		for _, prev := range models[:i] {
			if prev.PK() == m.PK() && storage.Name(prev) == storage.Name(m) {
				return storage.ErrAlreadyExists
			}
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Read(_ context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id, model)
}

func (s *store) read(id string, model storage.Model) error {
	b := s.data[storage.Name(model)][id]
	if b == nil {
		return storage.ErrNotFound
	}
	if err := json.Unmarshal(b, model); err != nil {
		return fmt.Errorf("%w: %s", storage.ErrInvalidModel, err)
	}
	return nil
}

func (s *store) Update(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		if s.data[storage.Name(m)][m.PK()] == nil {
			return storage.ErrNotFound
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Upsert(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(models, encoded)
	return nil
}

func (s *store) Delete(_ context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	id := model.PK()
	if s.data[n][id] == nil {
		return storage.ErrNotFound
	}
	delete(s.data[n], id)
	return nil
}

func (s *store) Exists(_ context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[storage.Name(model)][id] != nil, nil
}

// List always performs a full scan of all items.
func (s *store) List(_ context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return storage.ErrSliceRequired
	}

	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return storage.ErrTypeMismatch
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := storage.Name(filter)

	// Return models sorted by primary key.
	pks := make([]string, 0, len(s.data[n]))
	for pk := range s.data[n] {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	filterValue := reflect.ValueOf(filter)
	for _, pk := range pks {
		newElemPtr := reflect.New(elemType)
		newElem := newElemPtr.Elem()
		if err := s.read(pk, newElemPtr.Interface().(storage.Model)); err != nil {
			return err
		}
		if matches(newElem, filterValue) {
			sliceVal.Set(reflect.Append(sliceVal, newElem))
		}
	}

	return nil
}

func (s *store) Close() error {
	return nil
}

func (s *store) put(models []storage.Model, encoded [][]byte) {
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
}

func encode(models []storage.Model) ([][]byte, error) {
	out := make([][]byte, len(models))
	for i, m := range models {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrInvalidModel, err)
		}
		out[i] = b
	}
	return out, nil
}

// matches reports whether every non-zero field in filter equals the
// corresponding field in v.
func matches(v, filter reflect.Value) bool {
	for i := 0; i < v.NumField(); i++ {
		if shouldFilter(filter.Field(i)) {
			if !reflect.DeepEqual(v.Field(i).Interface(), filter.Field(i).Interface()) {
				return false
			}
		}
	}
	return true
}

// shouldFilter returns true for non-zero values and non-nil pointers.
func shouldFilter(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return !v.IsNil()
	default:
		return !v.IsZero()
	}
}
