// Program introspector prints the introspection tree of a remote D-Bus
// object, to show how Proxy.Introspect can be used outside the core package.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nyvil/godbus2"
)

func main() {
	exitCode := 1
	defer func() { os.Exit(exitCode) }()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	system := flag.Bool("system", false, "connect to the system bus instead of the session bus")
	dest := flag.String("dest", "", "destination bus name to introspect")
	path := flag.String("path", "/", "object path to introspect")
	recurse := flag.Bool("recurse", false, "descend into child nodes")
	flag.Parse()

	if *dest == "" {
		log.Error("introspector: -dest is required")
		return
	}

	bus := dbus.SessionBus
	if *system {
		bus = dbus.SystemBus
	}
	conn, err := dbus.Dial(bus)
	if err != nil {
		log.Error("dial bus", "error", err)
		return
	}
	defer conn.Close()

	if err := introspect(conn, *dest, dbus.ObjectPath(*path), *recurse, 0); err != nil {
		log.Error("introspect", "error", err)
		return
	}
	exitCode = 0
}

func introspect(conn *dbus.Connection, dest string, path dbus.ObjectPath, recurse bool, depth int) error {
	p := dbus.NewProxy(conn, dest, path, "")
	node, err := p.Introspect()
	if err != nil {
		return fmt.Errorf("introspect %s: %w", path, err)
	}
	printNode(node, path, depth)

	if !recurse {
		return nil
	}
	for _, child := range node.Children {
		if child.Name == "" {
			continue
		}
		childPath := dbus.ObjectPath(string(path))
		if path != "/" {
			childPath += "/"
		}
		childPath += dbus.ObjectPath(child.Name)
		if err := introspect(conn, dest, childPath, recurse, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func printNode(node *dbus.Node, path dbus.ObjectPath, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Printf("%s%s\n", indent, path)
	for _, iface := range node.Interfaces {
		fmt.Printf("%s  %s\n", indent, iface.Name)
		for _, m := range iface.Methods {
			fmt.Printf("%s    method %s(%s) (%s)\n", indent, m.Name, m.InSignature(), m.OutSignature())
		}
		for _, s := range iface.Signals {
			fmt.Printf("%s    signal %s\n", indent, s.Name)
		}
		for _, prop := range iface.Properties {
			fmt.Printf("%s    property %s %s (%s)\n", indent, prop.Name, prop.Type, prop.Access)
		}
	}
}
