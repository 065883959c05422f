package module

// Node is one vertex of the discovery tree a host hands to the runtime.
// Groups carry only a name and children; leaves carry a Factory. A node may
// be both: its own factory is registered and its children are walked.
//
// Names are joined with dots while walking, so a leaf "exporter" under a
// group "metrics" is registered as "metrics.exporter".
type Node struct {
	Name     string
	Disabled bool
	Location Location
	Factory  Factory
	Children []*Node
}

// Group builds an intermediate tree node with the given children.
func Group(name string, children ...*Node) *Node {
	return &Node{Name: name, Children: children}
}

// Leaf builds a loadable tree node.
func Leaf(name string, factory Factory) *Node {
	return &Node{Name: name, Factory: factory}
}
