package video

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// PageSize is the allocation granularity of pool blocks
const PageSize = 4096

var (
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	ErrPoolClosed    = errors.New("buffer pool is closed")
)

// Block is a page-aligned, anonymously mapped buffer owned by a Pool
type Block struct {
	data      []byte
	size      int
	allocated int
	pool      *Pool
	mu        sync.Mutex
	mapped    bool
}

func allocateBlock(size int) (*Block, error) {
	if size <= 0 {
		return nil, errors.Newf("block size must be positive, got %d", size)
	}

	aligned := ((size + PageSize - 1) / PageSize) * PageSize
	data, err := unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}

	return &Block{
		data:      data[:size],
		size:      size,
		allocated: aligned,
		mapped:    true,
	}, nil
}

// Bytes returns the usable part of the block
func (b *Block) Bytes() []byte {
	return b.data
}

// Size returns the usable block size
func (b *Block) Size() int {
	return b.size
}

// Release hands the block back to its pool
func (b *Block) Release() {
	if b.pool != nil {
		b.pool.Put(b)
	}
}

func (b *Block) unmap() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.mapped || len(b.data) == 0 {
		return nil
	}
	full := unsafe.Slice(&b.data[0], b.allocated)
	if err := unix.Munmap(full); err != nil {
		return errors.Wrap(err, "munmap")
	}
	b.data = nil
	b.mapped = false
	return nil
}

// Pool is a fixed set of equally sized blocks. Get never blocks: when every
// block is out, the caller gets ErrPoolExhausted.
type Pool struct {
	blockSize int
	free      chan *Block
	mu        sync.Mutex
	closed    bool
}

// NewPool maps count blocks of blockSize bytes up front
func NewPool(blockSize, count int) (*Pool, error) {
	if count <= 0 {
		return nil, errors.Newf("pool size must be positive, got %d", count)
	}

	p := &Pool{
		blockSize: blockSize,
		free:      make(chan *Block, count),
	}
	for i := 0; i < count; i++ {
		b, err := allocateBlock(blockSize)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "allocate block %d", i)
		}
		b.pool = p
		p.free <- b
	}
	return p, nil
}

// Get takes a free block
func (p *Pool) Get() (*Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case b := <-p.free:
		return b, nil
	default:
		return nil, errors.Wrapf(ErrPoolExhausted, "%d blocks of %d bytes in use", cap(p.free), p.blockSize)
	}
}

// Put returns a block. Blocks returned after Close are unmapped.
func (p *Pool) Put(b *Block) {
	if b == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		b.unmap()
		return
	}
	select {
	case p.free <- b:
	default:
		b.unmap()
	}
	p.mu.Unlock()
}

// Available returns the number of free blocks
func (p *Pool) Available() int {
	return len(p.free)
}

// BlockSize returns the usable size of each block
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Close unmaps every free block. Blocks still out are unmapped when put
// back.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.free)
	p.mu.Unlock()

	var errs []error
	for b := range p.free {
		if err := b.unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
