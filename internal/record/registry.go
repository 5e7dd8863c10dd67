package record

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("recordslug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
	return v
}

// CoreTypes are the record categories every deployment recognizes.
var CoreTypes = []Type{"bylaw", "policy", "resolution", "ordinance", "proclamation", "minutes"}

// CoreStatuses are the workflow statuses every deployment recognizes.
var CoreStatuses = []Status{"draft", "pending_review", "approved", "published", "archived", "rejected"}

// Validate checks that t is usable as a registry value.
func (t Type) Validate() error {
	if err := validate.Var(string(t), "required,max=64,recordslug"); err != nil {
		return fmt.Errorf("invalid record type %q: %w", t, err)
	}
	return nil
}

// Validate checks that s is usable as a registry value.
func (s Status) Validate() error {
	if err := validate.Var(string(s), "required,max=64,recordslug"); err != nil {
		return fmt.Errorf("invalid record status %q: %w", s, err)
	}
	return nil
}

// Registry answers whether a type or status is currently recognized.
// Unrecognized values are still valid records; callers decide what to do.
type Registry interface {
	KnownType(Type) bool
	KnownStatus(Status) bool
}

// StaticRegistry is a Registry seeded with the core values and extended at
// startup from configuration or modules.
type StaticRegistry struct {
	mu       sync.RWMutex
	types    map[Type]bool
	statuses map[Status]bool
}

// NewRegistry returns a registry holding CoreTypes and CoreStatuses.
func NewRegistry() *StaticRegistry {
	r := &StaticRegistry{
		types:    make(map[Type]bool),
		statuses: make(map[Status]bool),
	}
	for _, t := range CoreTypes {
		r.types[t] = true
	}
	for _, s := range CoreStatuses {
		r.statuses[s] = true
	}
	return r
}

// RegisterType adds t to the recognized types.
func (r *StaticRegistry) RegisterType(t Type) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t] = true
	return nil
}

// RegisterStatus adds s to the recognized statuses.
func (r *StaticRegistry) RegisterStatus(s Status) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[s] = true
	return nil
}

func (r *StaticRegistry) KnownType(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[t]
}

func (r *StaticRegistry) KnownStatus(s Status) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statuses[s]
}

// Types returns the recognized types in lexical order.
func (r *StaticRegistry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses returns the recognized statuses in lexical order.
func (r *StaticRegistry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.statuses))
	for s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
