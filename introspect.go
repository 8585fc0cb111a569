package dbus

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

const introspectDocType = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">`

// Arg, Property, Method, Signal and Node mirror the freedesktop
// introspection DTD (spec §6). Grounded on z3ntu-go-dbus's introspect.go
// parse tree, rewritten with correct encoding/xml struct tags (the
// teacher's `xml:"attr"` tags don't address fields by name, a defect not
// worth preserving) and extended with a generation side — godbus/dbus's
// export.go Node/Interface marshal-out shape is the model for that half.
type Arg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

type Property struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

type Method struct {
	Name string `xml:"name,attr"`
	Args []Arg  `xml:"arg"`
}

type Signal struct {
	Name string `xml:"name,attr"`
	Args []Arg  `xml:"arg"`
}

type Interface struct {
	Name       string     `xml:"name,attr"`
	Methods    []Method   `xml:"method"`
	Signals    []Signal   `xml:"signal"`
	Properties []Property `xml:"property"`
}

type Node struct {
	XMLName    xml.Name    `xml:"node"`
	Name       string      `xml:"name,attr,omitempty"`
	Interfaces []Interface `xml:"interface"`
	Children   []Node      `xml:"node"`
}

// parseIntrospection parses a remote peer's introspection XML into a Node
// tree (spec §6). Used by cmd/introspector and cmd/generate-proxy.
func parseIntrospection(xmlDoc string) (*Node, error) {
	var n Node
	if err := xml.Unmarshal([]byte(xmlDoc), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (n *Node) Interface(name string) *Interface {
	for i := range n.Interfaces {
		if n.Interfaces[i].Name == name {
			return &n.Interfaces[i]
		}
	}
	return nil
}

func (i *Interface) MethodByName(name string) *Method {
	for j := range i.Methods {
		if i.Methods[j].Name == name {
			return &i.Methods[j]
		}
	}
	return nil
}

func (m *Method) InSignature() Signature {
	var sig Signature
	for _, a := range m.Args {
		if strings.EqualFold(a.Direction, "in") {
			sig += Signature(a.Type)
		}
	}
	return sig
}

func (m *Method) OutSignature() Signature {
	var sig Signature
	for _, a := range m.Args {
		if strings.EqualFold(a.Direction, "out") {
			sig += Signature(a.Type)
		}
	}
	return sig
}

// generateIntrospectionXML builds the XML advertised for a registered
// object, always including the standard Introspectable and Properties
// interfaces alongside the user interface (spec §6).
func generateIntrospectionXML(d *objectDispatcher) (string, error) {
	userIface, err := userInterfaceXML(d)
	if err != nil {
		return "", err
	}
	node := Node{
		Interfaces: []Interface{
			{Name: ifaceIntrospectable, Methods: []Method{
				{Name: "Introspect", Args: []Arg{{Name: "xml_data", Type: "s", Direction: "out"}}},
			}},
			{Name: ifaceProperties, Methods: []Method{
				{Name: "Get", Args: []Arg{
					{Name: "interface_name", Type: "s", Direction: "in"},
					{Name: "property_name", Type: "s", Direction: "in"},
					{Name: "value", Type: "v", Direction: "out"},
				}},
				{Name: "GetAll", Args: []Arg{
					{Name: "interface_name", Type: "s", Direction: "in"},
					{Name: "properties", Type: "a{sv}", Direction: "out"},
				}},
				{Name: "Set", Args: []Arg{
					{Name: "interface_name", Type: "s", Direction: "in"},
					{Name: "property_name", Type: "s", Direction: "in"},
					{Name: "value", Type: "v", Direction: "in"},
				}},
			}, Signals: []Signal{
				{Name: "PropertiesChanged", Args: []Arg{
					{Type: "s"}, {Type: "a{sv}"}, {Type: "as"},
				}},
			}},
			userIface,
		},
	}
	out, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", err
	}
	return introspectDocType + "\n" + string(out), nil
}

func userInterfaceXML(d *objectDispatcher) (Interface, error) {
	iface := Interface{Name: d.ifaceName}
	for name, entry := range d.methods {
		mt := entry.method.Type
		var args []Arg
		for i := 1; i < mt.NumIn(); i++ {
			sig, err := signatureOf(mt.In(i))
			if err != nil {
				return Interface{}, fmt.Errorf("dbus: method %s argument %d: %w", name, i, err)
			}
			args = append(args, Arg{Type: string(sig), Direction: "in"})
		}
		for i := 0; i < mt.NumOut()-1; i++ {
			sig, err := signatureOf(mt.Out(i))
			if err != nil {
				return Interface{}, fmt.Errorf("dbus: method %s return value %d: %w", name, i, err)
			}
			args = append(args, Arg{Type: string(sig), Direction: "out"})
		}
		iface.Methods = append(iface.Methods, Method{Name: name, Args: args})
	}
	for name, pf := range d.properties {
		fieldType := d.value.Elem().Type().Field(pf.fieldIndex).Type
		sig, err := signatureOf(fieldType)
		if err != nil {
			return Interface{}, fmt.Errorf("dbus: property %s: %w", name, err)
		}
		access := "read"
		switch {
		case pf.access.readable() && pf.access.writable():
			access = "readwrite"
		case pf.access.writable():
			access = "write"
		}
		iface.Properties = append(iface.Properties, Property{Name: name, Type: string(sig), Access: access})
	}
	for i := 0; i < d.value.Elem().NumField(); i++ {
		f := d.value.Elem().Type().Field(i)
		if tag, ok := f.Tag.Lookup("dbus"); ok && tag == "signal" {
			iface.Signals = append(iface.Signals, Signal{Name: f.Name})
		}
	}
	return iface, nil
}

// dynamicIntrospect implements the connection-level fallback from spec
// §4.8: when Introspect is called on a path with no registered object but
// with registered descendants, synthesise a Node enumerating unique
// first-level child names.
func (c *Connection) dynamicIntrospect(p ObjectPath) (string, bool) {
	prefix := string(p)
	if prefix != "/" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for _, obj := range c.objects {
		op := string(obj.path)
		if !strings.HasPrefix(op, prefix) || op == string(p) {
			continue
		}
		rest := strings.TrimPrefix(op, prefix)
		child := strings.SplitN(rest, "/", 2)[0]
		if child != "" {
			seen[child] = true
		}
	}
	if len(seen) == 0 {
		return "", false
	}
	node := Node{Name: path.Base(string(p))}
	for name := range seen {
		node.Children = append(node.Children, Node{Name: name})
	}
	out, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", false
	}
	return introspectDocType + "\n" + string(out), true
}
