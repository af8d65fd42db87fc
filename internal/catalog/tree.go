package catalog

import (
	"sort"
	"strings"
)

// BuildTree groups scripts by category and then by path segment. It is a
// pure function of its input.
func BuildTree(scripts []ScriptDescriptor) []*TreeNode {
	categories := make(map[string]*TreeNode)
	var order []*TreeNode

	for i := range scripts {
		script := scripts[i]
		cat, ok := categories[script.Category]
		if !ok {
			cat = &TreeNode{Name: script.Category, Path: script.Category, Type: NodeCategory}
			categories[script.Category] = cat
			order = append(order, cat)
		}

		segments := strings.Split(strings.Trim(script.RelativePath, "/"), "/")
		parent := cat
		for depth, seg := range segments[:len(segments)-1] {
			parent = childDir(parent, seg, strings.Join(segments[:depth+1], "/"))
		}
		parent.Children = append(parent.Children, &TreeNode{
			Name:   segments[len(segments)-1],
			Path:   script.RelativePath,
			Type:   NodeScript,
			Script: &script,
		})
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].Name < order[j].Name })
	for _, cat := range order {
		sortTree(cat)
	}
	if order == nil {
		order = []*TreeNode{}
	}
	return order
}

func childDir(parent *TreeNode, name, path string) *TreeNode {
	for _, child := range parent.Children {
		if child.Type == NodeDirectory && child.Name == name {
			return child
		}
	}
	dir := &TreeNode{Name: name, Path: path, Type: NodeDirectory}
	parent.Children = append(parent.Children, dir)
	return dir
}

// sortTree orders directories before scripts, each by name.
func sortTree(node *TreeNode) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if (a.Type == NodeDirectory) != (b.Type == NodeDirectory) {
			return a.Type == NodeDirectory
		}
		return a.Name < b.Name
	})
	for _, child := range node.Children {
		if child.Type == NodeDirectory {
			sortTree(child)
		}
	}
}
