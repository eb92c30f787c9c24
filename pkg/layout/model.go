// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout holds the in-memory tree of a flash image: every region,
// volume, file, section and stretch of padding is a Node, addressed by its
// Path from the root.
package layout

import (
	"errors"
	"fmt"
)

// ErrPathInvalid is returned when a path does not resolve to a node.
var ErrPathInvalid = errors.New("invalid path")

// EventType identifies a structural change.
type EventType int

// Events emitted by the Model mutators.
const (
	EventInserted EventType = iota
	EventRemoved
	EventReplaced
)

func (e EventType) String() string {
	switch e {
	case EventInserted:
		return "Inserted"
	case EventRemoved:
		return "Removed"
	case EventReplaced:
		return "Replaced"
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

// Event describes a change at Path. For EventRemoved, Node is the detached
// subtree.
type Event struct {
	Type EventType
	Path Path
	Node *Node
}

// Observer receives change notifications.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }

// Model owns the root of a tree. It does not recompute anything implicitly:
// offsets and bytes are refreshed by the reconstruction engine.
type Model struct {
	root      *Node
	observers map[int]Observer
	nextID    int
}

// NewModel wraps root. A nil root is replaced by an empty Root node.
func NewModel(root *Node) *Model {
	if root == nil {
		root = &Node{Kind: KindRoot}
	}
	root.Parent = nil
	return &Model{root: root, observers: map[int]Observer{}}
}

// Root returns the root node.
func (m *Model) Root() *Node {
	return m.root
}

// Get resolves a path.
func (m *Model) Get(p Path) (*Node, error) {
	n := m.root
	for depth, i := range p {
		if i < 0 || i >= len(n.Children) {
			return nil, fmt.Errorf("%w: %v: index %d out of %d children at depth %d",
				ErrPathInvalid, p, i, len(n.Children), depth)
		}
		n = n.Children[i]
	}
	return n, nil
}

// Children returns the children of the node at p.
func (m *Model) Children(p Path) ([]*Node, error) {
	n, err := m.Get(p)
	if err != nil {
		return nil, err
	}
	return n.Children, nil
}

// ReplaceSubtree puts n where the node at p is. The empty path replaces
// the root.
func (m *Model) ReplaceSubtree(p Path, n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil replacement for %v", ErrPathInvalid, p)
	}
	old, err := m.Get(p)
	if err != nil {
		return err
	}
	if len(p) == 0 {
		n.Parent = nil
		m.root = n
	} else {
		parent := old.Parent
		parent.Children[p.Last()] = n
		n.Parent = parent
	}
	old.Parent = nil
	m.notify(Event{Type: EventReplaced, Path: p, Node: n})
	return nil
}

// RemoveSubtree detaches the node at p and returns it. The root cannot be
// removed.
func (m *Model) RemoveSubtree(p Path) (*Node, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: the root cannot be removed", ErrPathInvalid)
	}
	n, err := m.Get(p)
	if err != nil {
		return nil, err
	}
	parent := n.Parent
	i := p.Last()
	parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
	n.Parent = nil
	m.notify(Event{Type: EventRemoved, Path: p, Node: n})
	return n, nil
}

// InsertSubtree inserts n as the child number position of the node at p.
// position may equal the number of children to append.
func (m *Model) InsertSubtree(p Path, position int, n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node inserted at %v", ErrPathInvalid, p)
	}
	parent, err := m.Get(p)
	if err != nil {
		return err
	}
	if position < 0 || position > len(parent.Children) {
		return fmt.Errorf("%w: position %d out of range [0, %d] at %v",
			ErrPathInvalid, position, len(parent.Children), p)
	}
	children := make([]*Node, 0, len(parent.Children)+1)
	children = append(children, parent.Children[:position]...)
	children = append(children, n)
	children = append(children, parent.Children[position:]...)
	parent.Children = children
	n.Parent = parent
	m.notify(Event{Type: EventInserted, Path: p.Child(position), Node: n})
	return nil
}

// Subscribe registers o and returns a function that unregisters it.
func (m *Model) Subscribe(o Observer) (cancel func()) {
	id := m.nextID
	m.nextID++
	m.observers[id] = o
	return func() { delete(m.observers, id) }
}

func (m *Model) notify(e Event) {
	for id := 0; id < m.nextID; id++ {
		if o, ok := m.observers[id]; ok {
			o.Notify(e)
		}
	}
}
