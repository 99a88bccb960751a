package object

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// Serialize encodes obj into tangram's canonical binary form: a
// deterministic, self-describing byte sequence such that equal
// objects always produce identical bytes (map keys sorted, no
// padding, uvarint integers and lengths) and Deserialize(Serialize(obj)) is
// obj. NewID(obj.Kind, Serialize(obj)) is the object's identifier.
func Serialize(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	enc := &encoder{w: &buf}
	if err := enc.encodeObject(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes data, previously produced by Serialize, back
// into an Object of the given kind. It returns CodeInvalidKind if
// data is malformed or does not match kind.
func Deserialize(kind Kind, data []byte) (Object, error) {
	dec := &decoder{r: bytes.NewReader(data)}
	obj, err := dec.decodeObject(kind)
	if err != nil {
		return Object{}, err
	}
	if dec.r.Len() != 0 {
		return Object{}, tgerror.New(tgerror.CodeInvalidKind, "trailing bytes after object")
	}
	return obj, nil
}

// ComputeID computes and returns obj's content-addressed identifier.
func ComputeID(obj Object) (ID, error) {
	data, err := Serialize(obj)
	if err != nil {
		return ID{}, err
	}
	return NewID(obj.Kind, data), nil
}

// Children returns the full set of object IDs obj directly
// references — blob children, artifact entries, graph members, and
// any object IDs embedded in Command/Error values — deduplicated and
// sorted. The indexer uses this to walk the object graph without
// re-deserializing children.
func Children(obj Object) []ID {
	seen := map[string]ID{}
	add := func(id *ID) {
		if id != nil {
			seen[id.String()] = *id
		}
	}
	switch obj.Kind {
	case KindBranch:
		for _, c := range obj.Branch.Children {
			seen[c.Blob.String()] = c.Blob
		}
	case KindDirectory:
		for _, e := range obj.Directory.Entries {
			add(e.Artifact)
		}
	case KindFile:
		add(obj.File.Contents)
		for _, d := range obj.File.Dependencies {
			add(d.Artifact)
		}
	case KindSymlink:
		add(obj.Symlink.Artifact)
	case KindGraph:
		for _, n := range obj.Graph.Nodes {
			switch n.Kind {
			case KindDirectory:
				for _, e := range n.Directory.Entries {
					add(e.Artifact)
				}
			case KindFile:
				add(n.File.Contents)
				for _, d := range n.File.Dependencies {
					add(d.Artifact)
				}
			case KindSymlink:
				add(n.Symlink.Artifact)
			}
		}
	case KindCommand:
		for _, a := range obj.Command.Args {
			for _, id := range a.Children() {
				seen[id.String()] = id
			}
		}
		for _, v := range obj.Command.Env {
			for _, id := range v.Children() {
				seen[id.String()] = id
			}
		}
		for _, id := range obj.Command.Executable.Children() {
			seen[id.String()] = id
		}
		add(obj.Command.Stdin)
	case KindError:
		add(obj.Error.Source)
	}
	out := make([]ID, 0, len(seen))
	for _, id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// --- wire primitives ---
//
// Every encoded value starts with a one-byte tag (for sum types) or
// is a fixed-width/length-prefixed primitive. Strings and byte
// strings are length-prefixed with a uvarint. Map entries are sorted
// by key before encoding so that equal maps always serialize
// identically regardless of Go map iteration order.

type encoder struct {
	w *bytes.Buffer
}

func (e *encoder) byte(b byte) { e.w.WriteByte(b) }

func (e *encoder) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.w.Write(tmp[:n])
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.w.Write(b)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) bool(b bool) {
	if b {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func (e *encoder) optID(id *ID) {
	if id == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.str(id.String())
}

func (e *encoder) id(id ID) { e.str(id.String()) }

func (e *encoder) optGraphRef(r *GraphReference) {
	if r == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.optID(r.Graph)
	e.uvarint(uint64(r.Index))
}

func (e *encoder) encodeObject(obj Object) error {
	switch obj.Kind {
	case KindLeaf:
		e.bytes(obj.Leaf.Bytes)
	case KindBranch:
		e.uvarint(uint64(len(obj.Branch.Children)))
		for _, c := range obj.Branch.Children {
			e.id(c.Blob)
			e.uvarint(c.Size)
		}
	case KindDirectory:
		entries := append([]DirectoryEntry{}, obj.Directory.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		e.uvarint(uint64(len(entries)))
		for _, ent := range entries {
			e.str(ent.Name)
			e.optID(ent.Artifact)
			e.optGraphRef(ent.Reference)
		}
	case KindFile:
		e.optID(obj.File.Contents)
		e.optGraphRef(obj.File.ContentsRef)
		e.bool(obj.File.Executable)
		e.encodeDependencies(obj.File.Dependencies)
	case KindSymlink:
		e.str(obj.Symlink.Target)
		e.optID(obj.Symlink.Artifact)
		e.optGraphRef(obj.Symlink.Reference)
		e.str(obj.Symlink.Subpath)
	case KindGraph:
		e.uvarint(uint64(len(obj.Graph.Nodes)))
		for _, n := range obj.Graph.Nodes {
			e.byte(graphNodeTag(n.Kind))
			switch n.Kind {
			case KindDirectory:
				entries := append([]DirectoryEntry{}, n.Directory.Entries...)
				sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
				e.uvarint(uint64(len(entries)))
				for _, ent := range entries {
					e.str(ent.Name)
					e.optID(ent.Artifact)
					e.optGraphRef(ent.Reference)
				}
			case KindFile:
				e.optID(n.File.Contents)
				e.optGraphRef(n.File.ContentsRef)
				e.bool(n.File.Executable)
				e.encodeDependencies(n.File.Dependencies)
			case KindSymlink:
				e.str(n.Symlink.Target)
				e.optID(n.Symlink.Artifact)
				e.optGraphRef(n.Symlink.Reference)
				e.str(n.Symlink.Subpath)
			default:
				return tgerror.New(tgerror.CodeInvalidGraph, "unsupported graph node kind %q", n.Kind)
			}
		}
	case KindCommand:
		e.uvarint(uint64(len(obj.Command.Args)))
		for _, a := range obj.Command.Args {
			e.encodeValue(a)
		}
		e.encodeValueMap(obj.Command.Env)
		e.encodeValue(obj.Command.Executable)
		e.str(obj.Command.Host)
		e.uvarint(uint64(len(obj.Command.Mounts)))
		for _, m := range obj.Command.Mounts {
			e.str(m.Source)
			e.str(m.Target)
			e.bool(m.ReadOnly)
		}
		e.optID(obj.Command.Stdin)
		e.str(obj.Command.Cwd)
		e.str(obj.Command.User)
	case KindError:
		se := obj.Error
		e.str(se.Code)
		e.str(se.Message)
		e.encodeOptLocation(se.Location)
		e.uvarint(uint64(len(se.Stack)))
		for _, f := range se.Stack {
			e.str(f.Symbol)
			e.encodeOptLocation(f.Location)
		}
		keys := make([]string, 0, len(se.Values))
		for k := range se.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.str(k)
			e.str(se.Values[k])
		}
		e.optID(se.Source)
	default:
		return tgerror.New(tgerror.CodeInvalidKind, "cannot encode unknown kind %q", obj.Kind)
	}
	return nil
}

func (e *encoder) encodeDependencies(deps map[string]Dependency) {
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.uvarint(uint64(len(keys)))
	for _, k := range keys {
		d := deps[k]
		e.str(k)
		e.optID(d.Artifact)
		e.optGraphRef(d.Reference)
		e.str(d.Subpath)
		e.str(d.Tag)
	}
}

func (e *encoder) encodeOptLocation(loc *ErrorLocation) {
	if loc == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.str(loc.Path)
	e.uvarint(uint64(loc.Line))
	e.uvarint(uint64(loc.Column))
}

func (e *encoder) encodeValue(v Value) {
	e.byte(byte(v.Kind))
	switch v.Kind {
	case ValueKindNull:
	case ValueKindBool:
		e.bool(v.Bool)
	case ValueKindNumber:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Number))
		e.w.Write(tmp[:])
	case ValueKindString:
		e.str(v.Str)
	case ValueKindArray:
		e.uvarint(uint64(len(v.Array)))
		for _, e2 := range v.Array {
			e.encodeValue(e2)
		}
	case ValueKindMap:
		e.encodeValueMap(v.Map)
	case ValueKindBytes:
		e.bytes(v.Bytes)
	case ValueKindObject:
		e.id(v.Object)
	case ValueKindMutation:
		e.encodeMutation(v.Mutation)
	case ValueKindTemplate:
		e.encodeTemplate(v.Template)
	case ValueKindPlaceholder:
		e.str(v.Placeholder)
	}
}

func (e *encoder) encodeValueMap(m map[string]Value) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.uvarint(uint64(len(keys)))
	for _, k := range keys {
		e.str(k)
		e.encodeValue(m[k])
	}
}

func (e *encoder) encodeTemplate(t *Template) {
	if t == nil {
		e.uvarint(0)
		return
	}
	e.uvarint(uint64(len(t.Components)))
	for _, c := range t.Components {
		e.encodeValue(c)
	}
}

func (e *encoder) encodeMutation(m *Mutation) {
	e.byte(byte(m.Kind))
	switch m.Kind {
	case MutationKindSet, MutationKindSetIfUnset, MutationKindPrepend, MutationKindAppend:
		if m.Value == nil {
			e.byte(0)
		} else {
			e.byte(1)
			e.encodeValue(*m.Value)
		}
	case MutationKindPrefix, MutationKindSuffix:
		e.encodeTemplate(m.Template)
		e.str(m.Separator)
	case MutationKindMerge:
		e.uvarint(uint64(len(m.Values)))
		for _, v := range m.Values {
			e.encodeValue(v)
		}
	}
}

func graphNodeTag(k Kind) byte {
	switch k {
	case KindDirectory:
		return 1
	case KindFile:
		return 2
	case KindSymlink:
		return 3
	default:
		return 0
	}
}

func graphNodeKindFromTag(tag byte) (Kind, error) {
	switch tag {
	case 1:
		return KindDirectory, nil
	case 2:
		return KindFile, nil
	case 3:
		return KindSymlink, nil
	default:
		return "", tgerror.New(tgerror.CodeInvalidGraph, "unknown graph node tag %d", tag)
	}
}

// --- decoder ---

type decoder struct {
	r *bytes.Reader
}

func (d *decoder) byte() (byte, error) { return d.r.ReadByte() }

func (d *decoder) uvarint() (uint64, error) {
	return binary.ReadUvarint(d.r)
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := d.r.Read(buf); err != nil && n > 0 {
		return nil, err
	}
	return buf, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) bool() (bool, error) {
	b, err := d.byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *decoder) optID() (*ID, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	s, err := d.str()
	if err != nil {
		return nil, err
	}
	id, err := ParseID(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (d *decoder) id() (ID, error) {
	s, err := d.str()
	if err != nil {
		return ID{}, err
	}
	return ParseID(s)
}

func (d *decoder) optGraphRef() (*GraphReference, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	g, err := d.optID()
	if err != nil {
		return nil, err
	}
	idx, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	return &GraphReference{Graph: g, Index: int(idx)}, nil
}

func (d *decoder) decodeObject(kind Kind) (Object, error) {
	obj := Object{Kind: kind}
	switch kind {
	case KindLeaf:
		b, err := d.bytes()
		if err != nil {
			return Object{}, wrapDecodeErr(err)
		}
		obj.Leaf = &Leaf{Bytes: b}
	case KindBranch:
		n, err := d.uvarint()
		if err != nil {
			return Object{}, wrapDecodeErr(err)
		}
		children := make([]BranchChild, n)
		for i := range children {
			id, err := d.id()
			if err != nil {
				return Object{}, wrapDecodeErr(err)
			}
			size, err := d.uvarint()
			if err != nil {
				return Object{}, wrapDecodeErr(err)
			}
			children[i] = BranchChild{Blob: id, Size: size}
		}
		obj.Branch = &Branch{Children: children}
	case KindDirectory:
		entries, err := d.decodeDirectoryEntries()
		if err != nil {
			return Object{}, err
		}
		obj.Directory = &Directory{Entries: entries}
	case KindFile:
		f, err := d.decodeFile()
		if err != nil {
			return Object{}, err
		}
		obj.File = f
	case KindSymlink:
		s, err := d.decodeSymlink()
		if err != nil {
			return Object{}, err
		}
		obj.Symlink = s
	case KindGraph:
		n, err := d.uvarint()
		if err != nil {
			return Object{}, wrapDecodeErr(err)
		}
		nodes := make([]GraphNode, n)
		for i := range nodes {
			tag, err := d.byte()
			if err != nil {
				return Object{}, wrapDecodeErr(err)
			}
			nk, err := graphNodeKindFromTag(tag)
			if err != nil {
				return Object{}, err
			}
			node := GraphNode{Kind: nk}
			switch nk {
			case KindDirectory:
				entries, err := d.decodeDirectoryEntries()
				if err != nil {
					return Object{}, err
				}
				node.Directory = &Directory{Entries: entries}
			case KindFile:
				f, err := d.decodeFile()
				if err != nil {
					return Object{}, err
				}
				node.File = f
			case KindSymlink:
				s, err := d.decodeSymlink()
				if err != nil {
					return Object{}, err
				}
				node.Symlink = s
			}
			nodes[i] = node
		}
		obj.Graph = &Graph{Nodes: nodes}
	case KindCommand:
		c, err := d.decodeCommand()
		if err != nil {
			return Object{}, err
		}
		obj.Command = c
	case KindError:
		se, err := d.decodeError()
		if err != nil {
			return Object{}, err
		}
		obj.Error = se
	default:
		return Object{}, tgerror.New(tgerror.CodeInvalidKind, "cannot decode unknown kind %q", kind)
	}
	return obj, nil
}

func (d *decoder) decodeDirectoryEntries() ([]DirectoryEntry, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	entries := make([]DirectoryEntry, n)
	for i := range entries {
		name, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		artifact, err := d.optID()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		ref, err := d.optGraphRef()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		entries[i] = DirectoryEntry{Name: name, Artifact: artifact, Reference: ref}
	}
	return entries, nil
}

func (d *decoder) decodeFile() (*File, error) {
	contents, err := d.optID()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	contentsRef, err := d.optGraphRef()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	exec, err := d.bool()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	deps, err := d.decodeDependencies()
	if err != nil {
		return nil, err
	}
	return &File{Contents: contents, ContentsRef: contentsRef, Executable: exec, Dependencies: deps}, nil
}

func (d *decoder) decodeDependencies() (map[string]Dependency, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	deps := make(map[string]Dependency, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		artifact, err := d.optID()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		ref, err := d.optGraphRef()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		subpath, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		tag, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		deps[k] = Dependency{Artifact: artifact, Reference: ref, Subpath: subpath, Tag: tag}
	}
	return deps, nil
}

func (d *decoder) decodeSymlink() (*Symlink, error) {
	target, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	artifact, err := d.optID()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	ref, err := d.optGraphRef()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	subpath, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	return &Symlink{Target: target, Artifact: artifact, Reference: ref, Subpath: subpath}, nil
}

func (d *decoder) decodeCommand() (*Command, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	args := make([]Value, n)
	for i := range args {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	env, err := d.decodeValueMap()
	if err != nil {
		return nil, err
	}
	exe, err := d.decodeValue()
	if err != nil {
		return nil, err
	}
	host, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	mn, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	mounts := make([]CommandMount, mn)
	for i := range mounts {
		src, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		target, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		ro, err := d.bool()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		mounts[i] = CommandMount{Source: src, Target: target, ReadOnly: ro}
	}
	stdin, err := d.optID()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	cwd, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	user, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	return &Command{Args: args, Env: env, Executable: exe, Host: host, Mounts: mounts, Stdin: stdin, Cwd: cwd, User: user}, nil
}

func (d *decoder) decodeError() (*StoredError, error) {
	code, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	msg, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	loc, err := d.decodeOptLocation()
	if err != nil {
		return nil, err
	}
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	stack := make([]ErrorStackFrame, n)
	for i := range stack {
		sym, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		floc, err := d.decodeOptLocation()
		if err != nil {
			return nil, err
		}
		stack[i] = ErrorStackFrame{Symbol: sym, Location: floc}
	}
	vn, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	values := make(map[string]string, vn)
	for i := uint64(0); i < vn; i++ {
		k, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		v, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		values[k] = v
	}
	source, err := d.optID()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	return &StoredError{Code: code, Message: msg, Location: loc, Stack: stack, Values: values, Source: source}, nil
}

func (d *decoder) decodeOptLocation() (*ErrorLocation, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	if tag == 0 {
		return nil, nil
	}
	path, err := d.str()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	line, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	col, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	return &ErrorLocation{Path: path, Line: int(line), Column: int(col)}, nil
}

func (d *decoder) decodeValue() (Value, error) {
	tag, err := d.byte()
	if err != nil {
		return Value{}, wrapDecodeErr(err)
	}
	kind := ValueKind(tag)
	switch kind {
	case ValueKindNull:
		return Value{Kind: kind}, nil
	case ValueKindBool:
		b, err := d.bool()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Bool: b}, nil
	case ValueKindNumber:
		var tmp [8]byte
		if _, err := d.r.Read(tmp[:]); err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Number: math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))}, nil
	case ValueKindString:
		s, err := d.str()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Str: s}, nil
	case ValueKindArray:
		n, err := d.uvarint()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		arr := make([]Value, n)
		for i := range arr {
			v, err := d.decodeValue()
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Value{Kind: kind, Array: arr}, nil
	case ValueKindMap:
		m, err := d.decodeValueMap()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Map: m}, nil
	case ValueKindBytes:
		b, err := d.bytes()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Bytes: b}, nil
	case ValueKindObject:
		id, err := d.id()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Object: id}, nil
	case ValueKindMutation:
		m, err := d.decodeMutation()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Mutation: m}, nil
	case ValueKindTemplate:
		t, err := d.decodeTemplate()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Template: t}, nil
	case ValueKindPlaceholder:
		name, err := d.str()
		if err != nil {
			return Value{}, wrapDecodeErr(err)
		}
		return Value{Kind: kind, Placeholder: name}, nil
	default:
		return Value{}, tgerror.New(tgerror.CodeInvalidKind, "unknown value kind tag %d", tag)
	}
}

func (d *decoder) decodeValueMap() (map[string]Value, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	m := make(map[string]Value, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (d *decoder) decodeTemplate() (*Template, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	components := make([]Value, n)
	for i := range components {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		components[i] = v
	}
	return &Template{Components: components}, nil
}

func (d *decoder) decodeMutation() (*Mutation, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, wrapDecodeErr(err)
	}
	m := &Mutation{Kind: MutationKind(tag)}
	switch m.Kind {
	case MutationKindSet, MutationKindSetIfUnset, MutationKindPrepend, MutationKindAppend:
		has, err := d.byte()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		if has == 1 {
			v, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			m.Value = &v
		}
	case MutationKindPrefix, MutationKindSuffix:
		t, err := d.decodeTemplate()
		if err != nil {
			return nil, err
		}
		m.Template = t
		sep, err := d.str()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		m.Separator = sep
	case MutationKindMerge:
		n, err := d.uvarint()
		if err != nil {
			return nil, wrapDecodeErr(err)
		}
		values := make([]Value, n)
		for i := range values {
			v, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		m.Values = values
	default:
		return nil, tgerror.New(tgerror.CodeInvalidKind, "unknown mutation kind tag %d", tag)
	}
	return m, nil
}

func wrapDecodeErr(err error) error {
	return tgerror.Wrap(tgerror.CodeInvalidKind, err, "malformed object encoding")
}
