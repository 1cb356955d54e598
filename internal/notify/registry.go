package notify

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ScripturePalpi/palpi/internal/model"
)

var ErrUnknownNotification = errors.New("unknown notification")

type Kind string

const (
	KindFile   Kind = model.KindFile
	KindSpeech Kind = model.KindSpeech
)

// Descriptor is an immutable catalog entry. Payload is a file path for
// KindFile and the phrase to speak for KindSpeech.
type Descriptor struct {
	ID          string
	Description string
	Kind        Kind
	Payload     string
	Duration    time.Duration
}

// Registry is the read-only notification catalog.
type Registry struct {
	byID     map[string]Descriptor
	order    []string
	fallback string
}

func NewRegistry(defaultID string, descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]Descriptor, len(descriptors)),
		order:    make([]string, 0, len(descriptors)),
		fallback: defaultID,
	}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, errors.New("notification without id")
		}
		if _, ok := r.byID[d.ID]; ok {
			return nil, fmt.Errorf("duplicate notification %q", d.ID)
		}
		if d.Kind != KindFile && d.Kind != KindSpeech {
			return nil, fmt.Errorf("notification %q: unsupported kind %q", d.ID, d.Kind)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, fmt.Errorf("default notification: %w: %s", ErrUnknownNotification, defaultID)
	}
	return r, nil
}

// RegistryFromConfig resolves relative sound files against cfg.Dir.
func RegistryFromConfig(cfg model.Notifications) (*Registry, error) {
	descriptors := make([]Descriptor, 0, len(cfg.Sounds))
	for _, s := range cfg.Sounds {
		d := Descriptor{
			ID:          s.ID,
			Description: s.Description,
			Kind:        Kind(s.Kind),
			Duration:    time.Duration(s.Duration * float64(time.Second)),
		}
		switch d.Kind {
		case KindFile:
			d.Payload = s.File
			if cfg.Dir != "" && !filepath.IsAbs(d.Payload) {
				d.Payload = filepath.Join(cfg.Dir, d.Payload)
			}
		case KindSpeech:
			d.Payload = s.Text
		}
		descriptors = append(descriptors, d)
	}
	return NewRegistry(cfg.Default, descriptors...)
}

func (r *Registry) Get(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	return d, nil
}

// List returns the descriptors in catalog order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Default() string {
	return r.fallback
}
