package runtime

import "sort"

// Scope is a named container mapping names to Numbers and to child Scopes.
// It doubles as the activation record for function calls: CodeAddr is the
// instruction offset where the scope's body starts when the scope is
// invoked as a function (0 if the scope is not callable).
//
// numStack and scopeStack are each kept strictly sorted by name so lookups
// run as a binary search (FACT_get_local_num / FACT_get_local_scope in the
// original); a name may not be defined in both mappings of the same scope.
type Scope struct {
	Name     string
	CodeAddr uint32

	// Native, when non-nil, makes this scope callable as a built-in rather
	// than by jumping to CodeAddr. See Builtin and RegisterBuiltins.
	Native *Builtin

	numStack   []*Number
	scopeStack []*Scope

	marked bool // GC mark bit
}

// NewScope allocates an empty, unparented scope. Callers that want the
// conventional "up" link install it with s.BindScope("up", parent).
func NewScope(name string) *Scope {
	return &Scope{Name: name}
}

// GetLocalNum performs a binary search of this scope's own numStack by
// name. It does not walk the "up" chain; see Resolve for that.
func (s *Scope) GetLocalNum(name string) *Number {
	i := sort.Search(len(s.numStack), func(i int) bool { return s.numStack[i].Name >= name })
	if i < len(s.numStack) && s.numStack[i].Name == name {
		return s.numStack[i]
	}
	return nil
}

// GetLocalScope performs a binary search of this scope's own scopeStack.
func (s *Scope) GetLocalScope(name string) *Scope {
	i := sort.Search(len(s.scopeStack), func(i int) bool { return s.scopeStack[i].Name >= name })
	if i < len(s.scopeStack) && s.scopeStack[i].Name == name {
		return s.scopeStack[i]
	}
	return nil
}

// AddNum inserts a new Number variable into this scope's numStack in sort
// order, rejecting a name that already names a Number or a child Scope
// here.
func (s *Scope) AddNum(name string) (*Number, error) {
	if s.GetLocalNum(name) != nil {
		return nil, &NameError{Msg: "local variable " + name + " already exists; use \"del\" before redefining"}
	}
	if s.GetLocalScope(name) != nil {
		return nil, &NameError{Msg: "local scope " + name + " already exists; use \"del\" before redefining"}
	}
	n := NewNumber(name)
	s.insertNum(n)
	return n, nil
}

// AddNumArray is AddNum for a declared array of the given dimensions.
func (s *Scope) AddNumArray(name string, dims []uint64) (*Number, error) {
	if s.GetLocalNum(name) != nil {
		return nil, &NameError{Msg: "local variable " + name + " already exists; use \"del\" before redefining"}
	}
	if s.GetLocalScope(name) != nil {
		return nil, &NameError{Msg: "local scope " + name + " already exists; use \"del\" before redefining"}
	}
	n, err := NewArray(name, dims)
	if err != nil {
		return nil, err
	}
	s.insertNum(n)
	return n, nil
}

func (s *Scope) insertNum(n *Number) {
	i := sort.Search(len(s.numStack), func(i int) bool { return s.numStack[i].Name >= n.Name })
	s.numStack = append(s.numStack, nil)
	copy(s.numStack[i+1:], s.numStack[i:])
	s.numStack[i] = n
}

// AddScope inserts a new child Scope into this scope's scopeStack in sort
// order. It does not install the conventional "up" link itself; the
// caller (VM opcode handlers for NEW_S/DEF_S) binds "up" via BindScope once
// the child is in hand, since "up" must point at whichever scope is
// current `this` at creation time, not necessarily s.
func (s *Scope) AddScope(name string) (*Scope, error) {
	if s.GetLocalNum(name) != nil {
		return nil, &NameError{Msg: "local variable " + name + " already exists; use \"del\" before redefining"}
	}
	if s.GetLocalScope(name) != nil {
		return nil, &NameError{Msg: "local scope " + name + " already exists; use \"del\" before redefining"}
	}
	child := NewScope(name)
	s.insertScope(child)
	return child, nil
}

func (s *Scope) insertScope(child *Scope) {
	i := sort.Search(len(s.scopeStack), func(i int) bool { return s.scopeStack[i].Name >= child.Name })
	s.scopeStack = append(s.scopeStack, nil)
	copy(s.scopeStack[i+1:], s.scopeStack[i:])
	s.scopeStack[i] = child
}

// BindScope inserts an already-constructed child scope under name, used
// when the value being bound (e.g. a function literal, or "up" itself) was
// created elsewhere.
func (s *Scope) BindScope(name string, child *Scope) error {
	if s.GetLocalNum(name) != nil || s.GetLocalScope(name) != nil {
		return &NameError{Msg: "local name " + name + " already exists; use \"del\" before redefining"}
	}
	child.Name = name
	s.insertScope(child)
	return nil
}

// DelNum removes a Number variable from this scope, shifting the tail left
// to preserve sort order. Supports the "del" statement referenced by the
// original implementation's duplicate-definition error message.
func (s *Scope) DelNum(name string) bool {
	i := sort.Search(len(s.numStack), func(i int) bool { return s.numStack[i].Name >= name })
	if i < len(s.numStack) && s.numStack[i].Name == name {
		s.numStack = append(s.numStack[:i], s.numStack[i+1:]...)
		return true
	}
	return false
}

// DelScope is DelNum for the scopeStack.
func (s *Scope) DelScope(name string) bool {
	i := sort.Search(len(s.scopeStack), func(i int) bool { return s.scopeStack[i].Name >= name })
	if i < len(s.scopeStack) && s.scopeStack[i].Name == name {
		s.scopeStack = append(s.scopeStack[:i], s.scopeStack[i+1:]...)
		return true
	}
	return false
}

// Up returns the scope's parent via the conventional "up" child scope, or
// nil at the root of the chain.
func (s *Scope) Up() *Scope {
	return s.GetLocalScope("up")
}

// ResolveNum searches this scope's own numStack, then walks "up" and
// searches each ancestor's numStack the same way. Child scopes are not
// considered; Resolve is the lookup that checks both mappings at each level.
func (s *Scope) ResolveNum(name string) (*Number, error) {
	for cur := s; cur != nil; cur = cur.Up() {
		if n := cur.GetLocalNum(name); n != nil {
			return n, nil
		}
	}
	return nil, &NameError{Msg: "undefined variable " + name}
}

// ResolveScope is ResolveNum for child scopes.
func (s *Scope) ResolveScope(name string) (*Scope, error) {
	for cur := s; cur != nil; cur = cur.Up() {
		if sc := cur.GetLocalScope(name); sc != nil {
			return sc, nil
		}
	}
	return nil, &NameError{Msg: "undefined scope " + name}
}

// Resolve looks up name as either a Number or a Scope, searching this
// scope then its ancestors, preferring a Number on a name collision within
// a single scope (the two mappings never actually collide per AddNum's
// invariant, but resolution still must check both at each scope level
// before moving up).
func (s *Scope) Resolve(name string) (*Number, *Scope, error) {
	for cur := s; cur != nil; cur = cur.Up() {
		if n := cur.GetLocalNum(name); n != nil {
			return n, nil, nil
		}
		if sc := cur.GetLocalScope(name); sc != nil {
			return nil, sc, nil
		}
	}
	return nil, nil, &NameError{Msg: "undefined variable " + name}
}

// NumStack and ScopeStack expose read-only views of the sorted mappings,
// used by the garbage collector to walk a scope's owned values and by
// tests asserting sort-order invariants.
func (s *Scope) NumStack() []*Number   { return s.numStack }
func (s *Scope) ScopeStack() []*Scope  { return s.scopeStack }

// Marked reports and Mark/Unmark set this scope's GC mark bit.
func (s *Scope) Marked() bool  { return s.marked }
func (s *Scope) Mark()         { s.marked = true }
func (s *Scope) Unmark()       { s.marked = false }
