package datex

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Node is a namespace-free XML element. Attribute keys are local names, so
// xsi:type is available as "type".
type Node struct {
	Name       string
	Attributes map[string]string
	Text       string
	Children   []*Node
}

// ParseNodes decodes an XML document into a Node tree.
func ParseNodes(document []byte) (*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(document))
	d.CharsetReader = charset.NewReaderLabel

	var root *Node
	var stack []*Node

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		switch ty := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: ty.Name.Local, Attributes: map[string]string{}}
			for _, attr := range ty.Attr {
				node.Attributes[attr.Name.Local] = attr.Value
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(ty)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				node := stack[len(stack)-1]
				node.Text = strings.TrimSpace(node.Text)
				stack = stack[:len(stack)-1]
			}
		}
	}

	if root == nil {
		return nil, errors.New("empty document")
	}

	return root, nil
}

func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// Path follows direct children by name.
func (n *Node) Path(names ...string) *Node {
	current := n
	for _, name := range names {
		current = current.Child(name)
		if current == nil {
			return nil
		}
	}
	return current
}

// Find returns the first descendant (depth first) with the name.
func (n *Node) Find(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
		if found := child.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant with the name, in document order. Matches are
// not searched for nested matches.
func (n *Node) FindAll(name string) []*Node {
	var found []*Node
	if n == nil {
		return found
	}
	for _, child := range n.Children {
		if child.Name == name {
			found = append(found, child)
		} else {
			found = append(found, child.FindAll(name)...)
		}
	}
	return found
}

// FindText returns the text of the first descendant with the name that carries text.
func (n *Node) FindText(name string) string {
	if n == nil {
		return ""
	}
	for _, child := range n.Children {
		if child.Name == name && child.Text != "" {
			return child.Text
		}
		if text := child.FindText(name); text != "" {
			return text
		}
	}
	return ""
}

// Texts collects every non-empty text below the node, itself included.
func (n *Node) Texts() []string {
	if n == nil {
		return nil
	}
	var texts []string
	if n.Text != "" {
		texts = append(texts, n.Text)
	}
	for _, child := range n.Children {
		texts = append(texts, child.Texts()...)
	}
	return texts
}

// Type is the local part of the xsi:type attribute.
func (n *Node) Type() string {
	value := n.Attributes["type"]
	if index := strings.LastIndex(value, ":"); index >= 0 {
		return value[index+1:]
	}
	return value
}
