package hierarchy

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxDepth is the number of levels in the category model
const MaxDepth = 3

// SourceNode is one node of an external category taxonomy
type SourceNode struct {
	ID     string
	Title  string
	Parent string
}

// NodeError reports a taxonomy node that could not be classified
type NodeError struct {
	NodeID  string
	Message string
}

func (e NodeError) Error() string {
	return fmt.Sprintf("taxonomy node %q: %s", e.NodeID, e.Message)
}

// ClassifiedNode is a taxonomy node placed on a level of the category model
type ClassifiedNode struct {
	Node  SourceNode
	Level int
	// Path holds the titles from level 1 down to this node
	Path []string
}

// Taxonomy is a classified source taxonomy
type Taxonomy struct {
	nodes map[string]ClassifiedNode
	order []string
}

// ParseTaxonomyJSON reads taxonomy nodes from JSON. It accepts a bare array or
// an object with a "categories" array; ids and parents may be strings or numbers,
// and "name" is accepted in place of "title".
func ParseTaxonomyJSON(data []byte) ([]SourceNode, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse taxonomy: invalid json")
	}

	root := gjson.ParseBytes(data)
	list := root
	if root.IsObject() {
		list = root.Get("categories")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("failed to parse taxonomy: expected an array of categories")
	}

	var nodes []SourceNode
	for _, item := range list.Array() {
		title := item.Get("title").String()
		if title == "" {
			title = item.Get("name").String()
		}
		parent := item.Get("parent")
		if !parent.Exists() {
			parent = item.Get("parent_id")
		}
		node := SourceNode{
			ID:    item.Get("id").String(),
			Title: strings.TrimSpace(title),
		}
		if parent.Exists() && parent.Type != gjson.Null {
			node.Parent = parent.String()
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ClassifyTaxonomy places every node on level 1, 2 or 3 by walking parent links.
// Nodes with unknown parents, cyclic parent chains, or chains deeper than
// MaxDepth are reported and left out; every other node is still classified.
func ClassifyTaxonomy(nodes []SourceNode) (*Taxonomy, []NodeError) {
	byID := make(map[string]SourceNode, len(nodes))
	var order []string
	var errs []NodeError

	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, NodeError{NodeID: n.Title, Message: "missing id"})
			continue
		}
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, NodeError{NodeID: n.ID, Message: "duplicate id"})
			continue
		}
		if n.Title == "" {
			errs = append(errs, NodeError{NodeID: n.ID, Message: "missing title"})
			continue
		}
		byID[n.ID] = n
		order = append(order, n.ID)
	}

	t := &Taxonomy{nodes: make(map[string]ClassifiedNode, len(order))}
	for _, id := range order {
		chain, err := ancestorChain(byID, id)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		path := make([]string, len(chain))
		for i, n := range chain {
			path[len(chain)-1-i] = n.Title
		}
		t.nodes[id] = ClassifiedNode{Node: byID[id], Level: len(chain), Path: path}
		t.order = append(t.order, id)
	}
	return t, errs
}

// ancestorChain walks parent links iteratively from id up to its root,
// returning the chain node-first.
func ancestorChain(byID map[string]SourceNode, id string) ([]SourceNode, *NodeError) {
	visited := map[string]bool{}
	var chain []SourceNode
	current := id
	for {
		if visited[current] {
			return nil, &NodeError{NodeID: id, Message: fmt.Sprintf("cyclic parent chain at %q", current)}
		}
		visited[current] = true

		n, ok := byID[current]
		if !ok {
			return nil, &NodeError{NodeID: id, Message: fmt.Sprintf("unresolvable parent %q", current)}
		}
		chain = append(chain, n)
		if len(chain) > MaxDepth {
			return nil, &NodeError{NodeID: id, Message: fmt.Sprintf("parent chain exceeds %d levels", MaxDepth)}
		}
		if n.Parent == "" {
			return chain, nil
		}
		current = n.Parent
	}
}

// Node returns the classified node for id
func (t *Taxonomy) Node(id string) (ClassifiedNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns classified nodes in source order
func (t *Taxonomy) Nodes() []ClassifiedNode {
	out := make([]ClassifiedNode, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// PathFor maps a resource's source category ids onto a canonical path using
// the deepest resolvable id; ties go to the first encountered.
func (t *Taxonomy) PathFor(categoryIDs []string) (Path, bool) {
	var best *ClassifiedNode
	for _, id := range categoryIDs {
		n, ok := t.nodes[id]
		if !ok {
			continue
		}
		if best == nil || n.Level > best.Level {
			best = &n
		}
	}
	if best == nil {
		return Path{}, false
	}
	return PathFromSlice(best.Path), true
}

// TaxonomyImportResult summarizes an ImportTaxonomy run
type TaxonomyImportResult struct {
	Resolved int
	Created  int
	Errors   []string
}

// ImportTaxonomy resolves every classified node into the tree, parents first.
// A failing node is recorded and the rest continue.
func (r *Resolver) ImportTaxonomy(t *Taxonomy) *TaxonomyImportResult {
	result := &TaxonomyImportResult{}
	for level := 1; level <= MaxDepth; level++ {
		for _, n := range t.Nodes() {
			if n.Level != level {
				continue
			}
			res, err := r.Resolve(PathFromSlice(n.Path))
			if err != nil {
				result.Errors = append(result.Errors, NodeError{NodeID: n.Node.ID, Message: err.Error()}.Error())
				continue
			}
			result.Resolved++
			result.Created += len(res.Created)
		}
	}
	return result
}
