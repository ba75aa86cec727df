package xmlio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Finder looks up persisted objects by primary key. *loader.Loader
// implements it.
type Finder interface {
	FindByKey(class string, keyValues ...any) (*bo.Object, error)
}

// Reader turns an XML document into domain objects. Objects whose primary
// key matches a stored record are the registered instances, updated in
// place; the rest are new objects. Nothing is persisted until the caller
// commits.
type Reader struct {
	finder   Finder
	factory  *bo.Factory
	logger   *slog.Logger
	warnings []string
}

// NewReader returns a Reader. A nil logger uses slog.Default.
func NewReader(finder Finder, factory *bo.Factory, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{finder: finder, factory: factory, logger: logger}
}

// Warnings returns the problems the last Read skipped over, such as
// properties the class does not declare.
func (r *Reader) Warnings() []string { return r.warnings }

// Read decodes every object in src. An object element naming an unknown
// class, or a value that cannot be converted, stops the read with an error;
// objects already applied keep their new values.
func (r *Reader) Read(src io.Reader) ([]*bo.Object, error) {
	r.warnings = nil
	dec := xml.NewDecoder(src)
	seen := make(map[string]*bo.Object)
	var out []*bo.Object
	rootSeen := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read objects: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case rootElement:
			rootSeen = true
		case objectElement:
			if !rootSeen {
				return out, fmt.Errorf("<%s> outside <%s>: %w", objectElement, rootElement, ErrMalformed)
			}
			var elem xmlObject
			if err := dec.DecodeElement(&elem, &start); err != nil {
				return out, fmt.Errorf("read objects: %w", err)
			}
			o, err := r.apply(elem, seen)
			if err != nil {
				return out, err
			}
			if o != nil {
				out = append(out, o)
			}
		default:
			return out, fmt.Errorf("unexpected element <%s>: %w", start.Name.Local, ErrMalformed)
		}
	}
	if !rootSeen {
		return nil, fmt.Errorf("missing <%s>: %w", rootElement, ErrMalformed)
	}
	return out, nil
}

// apply resolves the object an element describes and sets its values. It
// returns nil, without error, for an object already returned earlier in
// the same document.
func (r *Reader) apply(elem xmlObject, seen map[string]*bo.Object) (*bo.Object, error) {
	if elem.Class == "" {
		return nil, fmt.Errorf("object without class: %w", ErrMalformed)
	}
	def, err := r.factory.Catalog().Class(elem.Class)
	if err != nil {
		return nil, err
	}

	props := make(map[string]xmlProperty, len(elem.Properties))
	for _, p := range elem.Properties {
		if _, err := def.Property(p.Name); err != nil {
			r.warn("%s: unknown property %q", def.Class, p.Name)
			continue
		}
		props[types.FoldName(p.Name)] = p
	}

	o, repeat, err := r.resolve(def, props, seen)
	if err != nil {
		return nil, err
	}

	for _, p := range elem.Properties {
		if _, ok := props[types.FoldName(p.Name)]; !ok {
			continue
		}
		if err := o.Set(p.Name, p.value()); err != nil {
			return nil, fmt.Errorf("%s %s: %w", def.Class, o.Key(), err)
		}
	}
	if repeat {
		return nil, nil
	}
	return o, nil
}

// resolve finds the object with the element's primary key, first among the
// objects read so far and then in the store, or creates a new one. repeat
// is true when the object was already read from this document.
func (r *Reader) resolve(def *types.ClassDef, props map[string]xmlProperty, seen map[string]*bo.Object) (o *bo.Object, repeat bool, err error) {
	keyValues := make([]any, 0, len(def.PrimaryKey))
	for _, name := range def.PrimaryKey {
		p, ok := props[types.FoldName(name)]
		if !ok || p.Null {
			keyValues = nil
			break
		}
		keyValues = append(keyValues, p.Value)
	}

	if keyValues != nil {
		key, err := r.factory.KeyOf(def.Class, keyValues...)
		if err != nil {
			return nil, false, err
		}
		if o, ok := seen[key]; ok {
			r.warn("%s: repeated in document", key)
			return o, true, nil
		}
		o, err := r.finder.FindByKey(def.Class, keyValues...)
		if err != nil {
			return nil, false, err
		}
		if o != nil {
			r.logger.Debug("xml object matched", "key", key)
			seen[key] = o
			return o, false, nil
		}
		o, err = r.factory.New(def.Class)
		if err != nil {
			return nil, false, err
		}
		seen[key] = o
		return o, false, nil
	}

	o, err = r.factory.New(def.Class)
	return o, false, err
}

func (r *Reader) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.logger.Warn("xml import", "warning", msg)
}
