package modrt

// Props are the attributes passed to an element or component.
type Props map[string]any

// Component renders props to a node: an *Element, a string, a number, a
// []any of nodes, or nil.
type Component func(props Props) (any, error)

// Element is one node of a component tree. Exactly one of Tag and
// Component is set.
type Element struct {
	Tag       string
	Component Component
	Key       string
	Props     Props
	Children  []any
}

// H creates a host element.
func H(tag string, props Props, children ...any) *Element {
	return &Element{Tag: tag, Props: props, Children: children}
}

// C creates a component element. The component runs when the tree is
// rendered, receiving props with "children" set.
func C(component Component, props Props, children ...any) *Element {
	return &Element{Component: component, Props: props, Children: children}
}

// Text is a convenience for a host element holding a single string.
func Text(tag, text string) *Element {
	return H(tag, nil, text)
}

// WithKey sets the element key and returns the element.
func (e *Element) WithKey(key string) *Element {
	e.Key = key
	return e
}

// IsComponent reports whether the element needs to be invoked.
func (e *Element) IsComponent() bool {
	return e.Component != nil
}

// ComponentProps returns the props a component is invoked with. The
// element's own props are copied so the component cannot mutate them.
func (e *Element) ComponentProps() Props {
	props := make(Props, len(e.Props)+1)
	for k, v := range e.Props {
		props[k] = v
	}
	if len(e.Children) > 0 {
		props["children"] = e.Children
	}
	return props
}

// Page describes one statically rendered page. Page components receive the
// current page under "currentPage" and every page under "pages".
type Page struct {
	URL  string
	Name string
	Meta map[string]any
}

// AsProps converts the page to a plain map.
func (p Page) AsProps() Props {
	return Props{"url": p.URL, "name": p.Name, "meta": p.Meta}
}
