// Package policy implements the POLICY module's criterion store: named
// integer/string/set-valued parameters an external rule engine would
// consume to steer routing. The rule engine itself is out of scope for
// this daemon; this package only owns the criteria it reads.
package policy

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/persist"
)

// Kind is a criterion's value shape.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindSet
)

// PersistPrefix marks criteria whose writes are persisted (debounced)
// to the key-value store.
const PersistPrefix = "persist.media."

type criterion struct {
	name   string
	kind   Kind
	intVal int32
	strVal string
	set    map[string]bool
}

// Store holds every registered criterion and forwards persisted-prefix
// writes to a debounced persist.Store.
type Store struct {
	mu         sync.Mutex
	criteria   map[string]*criterion
	store      *persist.Store
	onApply    func(name string)
	subscribed map[string][]func(name string)
}

// NewStore builds an empty criterion store. store may be nil if
// persistence is disabled (e.g. in tests); onApply fires for any
// "apply=1" write, standing in for the out-of-scope rule engine's
// re-evaluation hook.
func NewStore(store *persist.Store, onApply func(name string)) *Store {
	return &Store{
		criteria:   make(map[string]*criterion),
		store:      store,
		onApply:    onApply,
		subscribed: make(map[string][]func(name string)),
	}
}

// Define registers a criterion by name and kind. Re-defining an existing
// name resets its value.
func (s *Store) Define(name string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria[name] = &criterion{name: name, kind: kind, set: make(map[string]bool)}
}

func (s *Store) lookupLocked(name string) (*criterion, error) {
	c, ok := s.criteria[name]
	if !ok {
		return nil, errors.NewNotFoundError("policy."+name, nil)
	}
	return c, nil
}

// SetInt sets an integer criterion's value and, if apply requests it,
// fires onApply; persisted-prefix names are debounce-saved.
func (s *Store) SetInt(name string, value int32, apply bool) error {
	s.mu.Lock()
	c, err := s.lookupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.kind != KindInt {
		s.mu.Unlock()
		return errors.NewProtocolError("policy.setInt", nil)
	}
	c.intVal = value
	s.persistLocked(name, value)
	s.mu.Unlock()
	s.afterWrite(name, apply)
	return nil
}

func (s *Store) GetInt(name string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(name)
	if err != nil {
		return 0, err
	}
	if c.kind != KindInt {
		return 0, errors.NewProtocolError("policy.getInt", nil)
	}
	return c.intVal, nil
}

func (s *Store) SetString(name, value string, apply bool) error {
	s.mu.Lock()
	c, err := s.lookupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.kind != KindString {
		s.mu.Unlock()
		return errors.NewProtocolError("policy.setString", nil)
	}
	c.strVal = value
	s.mu.Unlock()
	s.afterWrite(name, apply)
	return nil
}

func (s *Store) GetString(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(name)
	if err != nil {
		return "", err
	}
	if c.kind != KindString {
		return "", errors.NewProtocolError("policy.getString", nil)
	}
	return c.strVal, nil
}

// Include/Exclude/Contain operate on set-valued inclusive criteria.
func (s *Store) Include(name, token string, apply bool) error {
	s.mu.Lock()
	c, err := s.lookupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.kind != KindSet {
		s.mu.Unlock()
		return errors.NewProtocolError("policy.include", nil)
	}
	c.set[token] = true
	s.mu.Unlock()
	s.afterWrite(name, apply)
	return nil
}

func (s *Store) Exclude(name, token string, apply bool) error {
	s.mu.Lock()
	c, err := s.lookupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.kind != KindSet {
		s.mu.Unlock()
		return errors.NewProtocolError("policy.exclude", nil)
	}
	delete(c.set, token)
	s.mu.Unlock()
	s.afterWrite(name, apply)
	return nil
}

func (s *Store) Contain(name, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(name)
	if err != nil {
		return false, err
	}
	if c.kind != KindSet {
		return false, errors.NewProtocolError("policy.contain", nil)
	}
	return c.set[token], nil
}

// Increase/Decrease step an integer criterion by one.
func (s *Store) Increase(name string, apply bool) error { return s.step(name, 1, apply) }
func (s *Store) Decrease(name string, apply bool) error { return s.step(name, -1, apply) }

func (s *Store) step(name string, delta int32, apply bool) error {
	s.mu.Lock()
	c, err := s.lookupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if c.kind != KindInt {
		s.mu.Unlock()
		return errors.NewProtocolError("policy.step", nil)
	}
	c.intVal += delta
	s.persistLocked(name, c.intVal)
	s.mu.Unlock()
	s.afterWrite(name, apply)
	return nil
}

// Subscribe registers cb to fire on every future write to name.
func (s *Store) Subscribe(name string, cb func(name string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupLocked(name); err != nil {
		return err
	}
	s.subscribed[name] = append(s.subscribed[name], cb)
	return nil
}

func (s *Store) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, name)
}

// Dump serializes every criterion's current value, sorted by name, as
// "name=value" pairs joined by "|" for the wire response.
func (s *Store) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.criteria))
	for n := range s.criteria {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		c := s.criteria[n]
		switch c.kind {
		case KindInt:
			parts = append(parts, n+"="+strconv.FormatInt(int64(c.intVal), 10))
		case KindString:
			parts = append(parts, n+"="+c.strVal)
		case KindSet:
			tokens := make([]string, 0, len(c.set))
			for t := range c.set {
				tokens = append(tokens, t)
			}
			sort.Strings(tokens)
			parts = append(parts, n+"="+strings.Join(tokens, ","))
		}
	}
	return strings.Join(parts, "|")
}

// Ping is a liveness no-op, returning "pong" for the wire response.
func (s *Store) Ping() string { return "pong" }

func (s *Store) persistLocked(name string, value int32) {
	if s.store != nil && strings.HasPrefix(name, PersistPrefix) {
		s.store.ScheduleSave(name, value)
	}
}

func (s *Store) afterWrite(name string, apply bool) {
	s.mu.Lock()
	subs := append([]func(name string){}, s.subscribed[name]...)
	s.mu.Unlock()
	for _, cb := range subs {
		cb(name)
	}
	if apply && s.onApply != nil {
		s.onApply(name)
	}
}
