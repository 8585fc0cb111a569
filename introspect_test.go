package dbus

import (
	"net"
	"strings"
	"testing"
)

const sampleIntrospectionXML = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="org.example.Counter">
    <method name="Increment">
      <arg name="by" type="i" direction="in"/>
      <arg name="result" type="i" direction="out"/>
    </method>
    <property name="Count" type="i" access="readwrite"/>
    <signal name="Changed">
      <arg type="s"/>
    </signal>
  </interface>
  <node name="child"/>
</node>`

func TestParseIntrospection(t *testing.T) {
	node, err := parseIntrospection(sampleIntrospectionXML)
	if err != nil {
		t.Fatalf("parseIntrospection: %v", err)
	}
	iface := node.Interface("org.example.Counter")
	if iface == nil {
		t.Fatal("Interface(\"org.example.Counter\") = nil")
	}
	m := iface.MethodByName("Increment")
	if m == nil {
		t.Fatal("MethodByName(\"Increment\") = nil")
	}
	if got := m.InSignature(); got != "i" {
		t.Errorf("InSignature() = %q, want \"i\"", got)
	}
	if got := m.OutSignature(); got != "i" {
		t.Errorf("OutSignature() = %q, want \"i\"", got)
	}
	if len(node.Children) != 1 || node.Children[0].Name != "child" {
		t.Errorf("Children = %+v, want one child named \"child\"", node.Children)
	}
}

func TestGenerateIntrospectionXMLIncludesStandardInterfaces(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	conn := newTestConnection(client)

	obj := &counterObject{}
	d, err := newObjectDispatcher(conn, obj, "org.example.Counter", "org.example.Service", "/org/example/Obj")
	if err != nil {
		t.Fatalf("newObjectDispatcher: %v", err)
	}

	xmlDoc := d.introXML
	for _, want := range []string{ifaceIntrospectable, ifaceProperties, "org.example.Counter", "Increment", "Count", "Changed"} {
		if !strings.Contains(xmlDoc, want) {
			t.Errorf("introspection XML missing %q:\n%s", want, xmlDoc)
		}
	}

	node, err := parseIntrospection(xmlDoc)
	if err != nil {
		t.Fatalf("parseIntrospection(generated XML): %v", err)
	}
	if node.Interface("org.example.Counter") == nil {
		t.Error("generated XML does not round-trip through the parser for the user interface")
	}
}

func TestDynamicIntrospectListsChildren(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	conn := newTestConnection(client)

	obj := &counterObject{}
	d, err := newObjectDispatcher(conn, obj, "org.example.Counter", "org.example.Service", "/org/example/parent/child")
	if err != nil {
		t.Fatalf("newObjectDispatcher: %v", err)
	}
	conn.objects = append(conn.objects, &registeredObject{handle: 1, path: "/org/example/parent/child", dispatcher: d})

	xmlDoc, ok := conn.dynamicIntrospect("/org/example/parent")
	if !ok {
		t.Fatal("dynamicIntrospect(\"/org/example/parent\") = false, want true")
	}
	if !strings.Contains(xmlDoc, `name="child"`) {
		t.Errorf("dynamic introspection XML missing child node:\n%s", xmlDoc)
	}
}

func TestDynamicIntrospectNoChildren(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	conn := newTestConnection(client)

	if _, ok := conn.dynamicIntrospect("/org/example/unrelated"); ok {
		t.Error("dynamicIntrospect with no matching descendants should return false")
	}
}
