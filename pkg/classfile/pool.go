package classfile

import "encoding/binary"

// pool is the constant pool of a class being assembled. Entries are
// deduplicated by content.
type pool struct {
	entries [][]byte
	index   map[string]uint16
}

func newPool() pool {
	return pool{index: make(map[string]uint16)}
}

// size is the constant_pool_count written to the class file.
func (p *pool) size() int {
	return len(p.entries) + 1
}

func (p *pool) add(entry []byte) uint16 {
	key := string(entry)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	p.entries = append(p.entries, entry)
	idx := uint16(len(p.entries))
	p.index[key] = idx
	return idx
}

func (p *pool) utf8(s string) uint16 {
	e := []byte{tagUtf8}
	e = binary.BigEndian.AppendUint16(e, uint16(len(s)))
	return p.add(append(e, s...))
}

func (p *pool) ref(tag byte, a uint16) uint16 {
	return p.add(binary.BigEndian.AppendUint16([]byte{tag}, a))
}

func (p *pool) pair(tag byte, a, b uint16) uint16 {
	e := binary.BigEndian.AppendUint16([]byte{tag}, a)
	return p.add(binary.BigEndian.AppendUint16(e, b))
}

func (p *pool) class(name string) uint16 {
	return p.ref(tagClass, p.utf8(name))
}

func (p *pool) str(s string) uint16 {
	return p.ref(tagString, p.utf8(s))
}

func (p *pool) methodType(desc string) uint16 {
	return p.ref(tagMethodType, p.utf8(desc))
}

func (p *pool) nameAndType(name, desc string) uint16 {
	return p.pair(tagNameAndType, p.utf8(name), p.utf8(desc))
}

func (p *pool) member(tag byte, owner, name, desc string) uint16 {
	return p.pair(tag, p.class(owner), p.nameAndType(name, desc))
}

func (p *pool) handle(h Handle) uint16 {
	tag := byte(tagMethodref)
	switch {
	case h.Kind <= RefPutStatic:
		tag = tagFieldref
	case h.Interface:
		tag = tagInterfaceMethodref
	}
	ref := p.member(tag, string(h.Owner), h.Name, h.Desc)
	return p.add(binary.BigEndian.AppendUint16([]byte{tagMethodHandle, byte(h.Kind)}, ref))
}

func (p *pool) invokeDynamic(bootstrap uint16, name, desc string) uint16 {
	return p.pair(tagInvokeDynamic, bootstrap, p.nameAndType(name, desc))
}

func (p *pool) appendTo(out []byte) []byte {
	out = binary.BigEndian.AppendUint16(out, uint16(p.size()))
	for _, e := range p.entries {
		out = append(out, e...)
	}
	return out
}
