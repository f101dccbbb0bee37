package jit

import (
	"fmt"

	"github.com/edsrzf/mmap-go"
	"github.com/llir/llvm/ir/types"
)

// object is one allocation visible to the running program.
// Byte-addressed memory (malloc, alloca i8) lives in data; stack slots of
// other types hold a single word.
type object struct {
	name   string
	data   []byte
	word   val
	isWord bool
	region mmap.MMap // non-nil for malloc'd memory
	freed  bool
}

// heap tracks the live allocations of one run
type heap struct {
	live map[*object]bool
}

func newHeap() *heap {
	return &heap{live: make(map[*object]bool)}
}

// poison is the byte every fresh allocation is filled with
const poison = 0xa5

// malloc maps an anonymous region of n bytes filled with poison.
// The contents are unspecified as far as the program is concerned.
func (h *heap) malloc(n uint64) (*object, error) {
	if n == 0 || n > 1<<40 {
		return nil, fmt.Errorf("malloc(%d): invalid size", n)
	}
	region, err := mmap.MapRegion(nil, int(n), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("malloc(%d): %w", n, err)
	}
	for i := range region {
		region[i] = poison
	}
	obj := &object{name: "heap", data: region, region: region}
	h.live[obj] = true
	return obj, nil
}

func (h *heap) free(obj *object) error {
	if obj == nil {
		return nil
	}
	if obj.region == nil {
		return fmt.Errorf("free of non-heap pointer into %s", obj.name)
	}
	if obj.freed {
		return fmt.Errorf("double free")
	}
	obj.freed = true
	obj.data = nil
	delete(h.live, obj)
	return obj.region.Unmap()
}

// release unmaps everything the program leaked
func (h *heap) release() {
	for obj := range h.live {
		obj.freed = true
		obj.data = nil
		_ = obj.region.Unmap()
	}
	h.live = make(map[*object]bool)
}

func alloca(elem types.Type) *object {
	if t, ok := elem.(*types.IntType); ok && t.BitSize == 8 {
		return &object{name: "stack", data: make([]byte, 1)}
	}
	return &object{name: "stack", isWord: true}
}

func (o *object) load(elem types.Type, off int64) (val, error) {
	if o.freed {
		return val{}, fmt.Errorf("load from freed %s memory", o.name)
	}
	if o.isWord {
		if off != 0 {
			return val{}, fmt.Errorf("load at offset %d of a %s slot", off, o.name)
		}
		return o.word, nil
	}
	if t, ok := elem.(*types.IntType); !ok || t.BitSize != 8 {
		return val{}, fmt.Errorf("load of %s from byte memory", elem)
	}
	if off < 0 || off >= int64(len(o.data)) {
		return val{}, fmt.Errorf("load at offset %d outside %s memory of %d bytes", off, o.name, len(o.data))
	}
	return val{n: uint64(o.data[off])}, nil
}

func (o *object) store(x val, off int64) error {
	if o.freed {
		return fmt.Errorf("store to freed %s memory", o.name)
	}
	if o.isWord {
		if off != 0 {
			return fmt.Errorf("store at offset %d of a %s slot", off, o.name)
		}
		o.word = x
		return nil
	}
	if x.obj != nil {
		return fmt.Errorf("store of a pointer into byte memory")
	}
	if off < 0 || off >= int64(len(o.data)) {
		return fmt.Errorf("store at offset %d outside %s memory of %d bytes", off, o.name, len(o.data))
	}
	o.data[off] = byte(x.n)
	return nil
}
