package vfs

import (
	"fmt"
	"io"
	"strings"
)

// TreeNode is one entry in the cached name tree: a rooted n-ary graph in
// which the forward ownership edge is parent -> child list, and
// node/parent/link back-references are non-owning (grounded on
// struct vfs_node in the original source's include/vfs.h).
type TreeNode struct {
	Name string

	// Vnode is either this node's own filesystem vnode, or, when IsMount,
	// the mounted filesystem's root vnode.
	Vnode *Vnode
	// RealVnode is the overlaid (pre-mount) vnode, valid only when IsMount.
	RealVnode *Vnode
	// Link forwards a transient symlink node to the tree node its target
	// resolved to, so repeated traversals reuse the resolution.
	Link *TreeNode

	Parent  *TreeNode
	Child   *TreeNode // head of the child list
	Sibling *TreeNode // next sibling ("cdr")

	IsMount bool
}

// Vnode is the in-memory handle for one filesystem entity: a driver
// implementation plus VFS-owned reference count and tree placement.
type Vnode struct {
	Driver   DriverNode
	Refcount uint32
	Tree     *TreeNode
}

func newVnode(d DriverNode) *Vnode {
	return &Vnode{Driver: d}
}

// newTreeNode wires a fresh tree node to vn, back-linking vn.Tree.
func newTreeNode(name string, vn *Vnode) *TreeNode {
	n := &TreeNode{Name: name, Vnode: vn}
	if vn != nil {
		vn.Tree = n
	}
	return n
}

// ref increments a vnode's refcount, except for root nodes (parent == nil),
// which are implicitly pinned for the process lifetime (grounded on
// vnode_ref in src/node.c).
func (v *Vnode) ref() {
	if v == nil {
		return
	}
	if v.Tree != nil && v.Tree.Parent == nil {
		return
	}
	v.Refcount++
}

// unref decrements a vnode's refcount and frees it once it reaches zero
// with no cached children (grounded on vnode_unref in src/node.c).
func (v *Vnode) unref() {
	if v == nil || v.Tree == nil || v.Tree.Parent == nil {
		return
	}
	if v.Refcount == 0 {
		return
	}
	v.Refcount--
	if v.Refcount == 0 && v.Tree.Child == nil {
		v.free()
	}
}

// free tears down a vnode: calls the driver's Destroy hook, unlinks the
// tree node from its parent's child list (which may cascade to the
// parent), then drops the link reference a symlink node was holding
// (grounded on vnode_free in src/node.c).
func (v *Vnode) free() {
	node := v.Tree
	if node == nil || node.IsMount {
		return
	}
	var linkTarget *TreeNode
	if node.Link != nil {
		linkTarget = node.Link
	}
	if v.Driver != nil {
		_ = v.Driver.Destroy()
	}
	removeTreeNode(node)
	if linkTarget != nil {
		linkTarget.Vnode.unref()
	}
}

// removeTreeNode detaches node from its parent's child list and cascades
// eviction to the parent if it becomes childless and unreferenced
// (grounded on vfs_node_remove in src/node.c).
func removeTreeNode(node *TreeNode) {
	if node == nil || node.Parent == nil {
		return
	}
	parent := node.Parent
	if parent.Child == node {
		parent.Child = node.Sibling
	} else {
		for it := parent.Child; it != nil; it = it.Sibling {
			if it.Sibling == node {
				it.Sibling = node.Sibling
				break
			}
		}
	}
	if parent.Parent != nil && parent.Child == nil && parent.Vnode.Refcount == 0 {
		parent.Vnode.free()
	}
}

// activeVnode returns the node's effective vnode: the mounted root when
// IsMount, otherwise its own.
func (n *TreeNode) activeVnode() *Vnode {
	if n.IsMount {
		return n.Vnode
	}
	return n.Vnode
}

// Path reconstructs a tree node's canonical path by walking parent links to
// the root (grounded on vfs_vnode_path in src/vfs.c).
func Path(n *TreeNode) string {
	if n == nil {
		return ""
	}
	var parts []string
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		parts = append([]string{cur.Name}, parts...)
	}
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// DumpTree prints the cached name tree with refcounts and mount
// annotations (grounded on vfs_dump_tree in src/vfs.c).
func DumpTree(w io.Writer, root *TreeNode) {
	dumpTree(w, root, 0)
}

func dumpTree(w io.Writer, n *TreeNode, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	mark := ""
	if n.IsMount {
		mark = " [mount]"
	}
	if n.Link != nil {
		mark += " -> " + Path(n.Link)
	}
	name := n.Name
	if name == "" {
		name = "/"
	}
	fmt.Fprintf(w, "%s%s (refs=%d)%s\n", indent, name, n.Vnode.Refcount, mark)
	for c := n.Child; c != nil; c = c.Sibling {
		dumpTree(w, c, depth+1)
	}
}
