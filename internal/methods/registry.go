package methods

import (
	"fmt"
	"sort"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// Registry is the immutable set of sanitization methods known to the process.
type Registry struct {
	byID  map[string]*domain.Method
	order []string
}

// NewRegistry builds a registry from the built-in methods plus any extras.
// Extras may not redefine a built-in.
func NewRegistry(extra ...domain.Method) (*Registry, error) {
	r := &Registry{byID: make(map[string]*domain.Method)}
	for _, m := range append(Builtins(), extra...) {
		if err := r.add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(m domain.Method) error {
	if m.ID == "" {
		return fmt.Errorf("method without id")
	}
	if _, dup := r.byID[m.ID]; dup {
		return fmt.Errorf("duplicate method id %q", m.ID)
	}
	if err := validate(&m); err != nil {
		return err
	}
	passes := make([]domain.PassSpec, len(m.Passes))
	for i, p := range m.Passes {
		p.Index = i
		p.Bytes = append([]byte(nil), p.Bytes...)
		passes[i] = p
	}
	m.Passes = passes
	r.byID[m.ID] = &m
	r.order = append(r.order, m.ID)
	return nil
}

func validate(m *domain.Method) error {
	if len(m.Passes) == 0 {
		return fmt.Errorf("method %q: at least one pass is required", m.ID)
	}
	for i, p := range m.Passes {
		if !p.Kind.IsValid() {
			return fmt.Errorf("method %q pass %d: unknown pattern %q", m.ID, i, p.Kind)
		}
		if p.Kind == domain.PatternComplement && i == 0 {
			return fmt.Errorf("method %q: complement cannot be the first pass", m.ID)
		}
		if p.Kind == domain.PatternFixed && len(p.Bytes) == 0 {
			return fmt.Errorf("method %q pass %d: fixed pattern needs bytes", m.ID, i)
		}
	}
	switch m.Firmware {
	case domain.FirmwareNone, domain.FirmwareBlockErase, domain.FirmwareCryptoErase:
	default:
		return fmt.Errorf("method %q: unknown firmware op %q", m.ID, m.Firmware)
	}
	return nil
}

// All returns every method in registration order.
func (r *Registry) All() []domain.Method {
	out := make([]domain.Method, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// ListMethods returns the methods applicable to the device, ordered by pass count
// and then id so the cheapest option comes first.
func (r *Registry) ListMethods(d *domain.Device) []domain.Method {
	var out []domain.Method
	for _, id := range r.order {
		m := r.byID[id]
		if m.Applicable(d) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PassCount() != out[j].PassCount() {
			return out[i].PassCount() < out[j].PassCount()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get looks up a method by id.
func (r *Registry) Get(id string) (*domain.Method, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, domain.ErrUnknownMethod)
	}
	c := *m
	return &c, nil
}

// Applicable looks up a method and checks it may target the device.
func (r *Registry) Applicable(id string, d *domain.Device) (*domain.Method, error) {
	m, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !m.Applicable(d) {
		return nil, fmt.Errorf("%s on %s (%s): %w", id, d.ID, d.Class, domain.ErrMethodNotApplicable)
	}
	return m, nil
}
