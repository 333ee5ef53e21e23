package vfs

import (
	"strings"

	"golang.org/x/sys/unix"
)

// splitFirst strips leading slashes from path, then splits off the first
// path element from the remainder.
func splitFirst(path string) (head, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// parentPath strips the last /-delimited segment from path. An empty
// result means "no parent given" (grounded on vfs_path_parent).
func parentPath(path string) string {
	p := strings.TrimRight(path, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// basename returns the last /-delimited segment of path, or the whole
// path if it has no slash (grounded on vfs_path_basename).
func basename(path string) string {
	p := strings.TrimRight(path, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// findTree resolves path relative to from, walking and extending the
// cached name tree, following symlinks whenever more path remains beyond
// them (grounded on vfs_find_tree in src/vfs.c).
func findTree(from *TreeNode, path string) (*TreeNode, error) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return from, nil
	}
	head, rest := splitFirst(path)

	switch head {
	case ".":
		return findTree(from, rest)
	case "..":
		parent := from.Parent
		if parent == nil {
			parent = from
		}
		return findTree(parent, rest)
	}

	if from.Vnode == nil || from.Vnode.Driver == nil {
		return nil, unix.ENOENT
	}
	if from.Vnode.Driver.Type() != TypeDirectory {
		return nil, unix.ENOTDIR
	}

	for c := from.Child; c != nil; c = c.Sibling {
		if c.Name == head {
			if rest == "" {
				return c, nil
			}
			return findTree(c, rest)
		}
	}

	childDriver, err := from.Vnode.Driver.Find(head)
	if err != nil {
		return nil, err
	}

	if childDriver.Type() == TypeSymlink && rest != "" {
		linkNode := newTreeNode(head, newVnode(childDriver))
		linkNode.Parent = from
		linkNode.Sibling = from.Child
		from.Child = linkNode

		target, err := childDriver.Readlink()
		if err != nil {
			return nil, err
		}
		base := from.Parent
		if base == nil {
			base = from
		}
		targetNode, err := findTree(base, target)
		if err != nil {
			return nil, err
		}
		linkNode.Link = targetNode
		targetNode.Vnode.ref()
		if rest == "" {
			return targetNode, nil
		}
		return findTree(targetNode, rest)
	}

	childNode := newTreeNode(head, newVnode(childDriver))
	childNode.Parent = from
	childNode.Sibling = from.Child
	from.Child = childNode
	if rest == "" {
		return childNode, nil
	}
	return findTree(childNode, rest)
}

// find resolves path to a tree node: absolute paths start at the global
// root, relative paths at ioc.Cwd's tree node (grounded on vfs_find in
// src/vfs.c).
func (v *VFS) find(ioc *IOContext, path string) (*TreeNode, error) {
	start := v.root
	if !strings.HasPrefix(path, "/") {
		start = ioc.Cwd.Tree
	}
	return findTree(start, path)
}

// resolveSymlinkTerminal re-resolves a terminal symlink node to its
// referent, the way open()/creat() do at open time (spec §4.8
// "open-time symlink").
func (v *VFS) resolveSymlinkTerminal(n *TreeNode) (*TreeNode, error) {
	for n.Vnode != nil && n.Vnode.Driver != nil && n.Vnode.Driver.Type() == TypeSymlink {
		target, err := n.Vnode.Driver.Readlink()
		if err != nil {
			return nil, err
		}
		base := n.Parent
		if base == nil {
			base = n
		}
		next, err := findTree(base, target)
		if err != nil {
			return nil, err
		}
		n = next
	}
	return n, nil
}
