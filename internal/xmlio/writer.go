package xmlio

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/criteria"
)

// Write encodes objs in the order given. Properties appear in declaration
// order with their stored (not display) values, so Reader reads the output
// back to equal objects.
func Write(w io.Writer, objs []*bo.Object) error {
	doc := xmlDocument{Objects: make([]xmlObject, 0, len(objs))}
	for _, o := range objs {
		elem := xmlObject{Class: o.Class()}
		for _, name := range o.Props().Names() {
			v, err := o.Get(name)
			if err != nil {
				return err
			}
			p := xmlProperty{Name: name}
			if v == nil {
				p.Null = true
			} else {
				p.Value = criteria.FormatValue(v)
			}
			elem.Properties = append(elem.Properties, p)
		}
		doc.Objects = append(doc.Objects, elem)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write objects: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write objects: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write objects: %w", err)
	}
	return nil
}
