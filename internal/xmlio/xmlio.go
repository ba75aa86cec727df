// Package xmlio reads and writes domain objects in the runtime's XML
// exchange format:
//
//	<objects>
//	  <object class="Parent">
//	    <property name="id">1</property>
//	    <property name="name">Acme</property>
//	    <property name="note" null="true"></property>
//	  </object>
//	</objects>
//
// A property element that is absent leaves the object's value alone. An
// element with null="true" sets the value to nil.
package xmlio

import (
	"encoding/xml"
	"errors"
)

// Element names of the format.
const (
	rootElement     = "objects"
	objectElement   = "object"
	propertyElement = "property"
)

// ErrMalformed is returned when the document does not follow the format.
var ErrMalformed = errors.New("malformed object document")

type xmlDocument struct {
	XMLName xml.Name    `xml:"objects"`
	Objects []xmlObject `xml:"object"`
}

type xmlObject struct {
	Class      string        `xml:"class,attr"`
	Properties []xmlProperty `xml:"property"`
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Null  bool   `xml:"null,attr,omitempty"`
	Value string `xml:",chardata"`
}

// value returns the property text, or nil for a null element.
func (p xmlProperty) value() any {
	if p.Null {
		return nil
	}
	return p.Value
}
