package settlement

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// ReceiptSize is the size of a shielded pool receipt id.
const ReceiptSize = 32

// Exports a shielded pool module must provide. Status results are 0 on
// success.
//
//	malloc(size i32) i32
//	free(ptr i32)
//	pool_initialize() i32
//	pool_transfer(from, to, mint i32, amount, fee i64, out i32) i32  ; out receives the 32-byte receipt
//	pool_balance(owner, mint, out i32) i32                           ; out receives a u64 LE
const (
	exportMalloc     = "malloc"
	exportFree       = "free"
	exportInitialize = "pool_initialize"
	exportTransfer   = "pool_transfer"
	exportBalance    = "pool_balance"
)

var (
	// ErrPoolABI is returned when a module does not provide the pool exports.
	ErrPoolABI = errors.New("shielded pool module ABI mismatch")
	// ErrPoolMemory is returned when guest memory cannot be accessed.
	ErrPoolMemory = errors.New("shielded pool memory access out of range")
)

// PoolError is a non-zero status returned by the pool module.
type PoolError struct {
	Op     string
	Status int32
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("shielded pool %s failed with status %d", e.Op, e.Status)
}

// WasmPool runs a shielded pool compiled to WebAssembly.
type WasmPool struct {
	mu sync.Mutex

	runtime wazero.Runtime
	module  api.Module

	malloc     api.Function
	free       api.Function
	initialize api.Function
	transfer   api.Function
	balance    api.Function
}

// LoadWasmPool reads and instantiates the module at path.
func LoadWasmPool(ctx context.Context, path string) (*WasmPool, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shielded pool module: %w", err)
	}
	return NewWasmPool(ctx, wasm)
}

// NewWasmPool instantiates a pool module with WASI available to it.
func NewWasmPool(ctx context.Context, wasm []byte) (*WasmPool, error) {
	r := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	mod, err := r.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName("shielded_pool"))
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate shielded pool module: %w", err)
	}

	p := &WasmPool{runtime: r, module: mod}
	exports := []struct {
		name string
		dst  *api.Function
	}{
		{exportMalloc, &p.malloc},
		{exportFree, &p.free},
		{exportInitialize, &p.initialize},
		{exportTransfer, &p.transfer},
		{exportBalance, &p.balance},
	}
	for _, e := range exports {
		fn := mod.ExportedFunction(e.name)
		if fn == nil {
			r.Close(ctx)
			return nil, fmt.Errorf("%w: missing export %q", ErrPoolABI, e.name)
		}
		*e.dst = fn
	}
	if mod.Memory() == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("%w: module exports no memory", ErrPoolABI)
	}
	return p, nil
}

// Close releases the runtime.
func (p *WasmPool) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

func (p *WasmPool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.initialize.Call(ctx)
	if err != nil {
		return fmt.Errorf("call %s: %w", exportInitialize, err)
	}
	return status("initialize", results)
}

func (p *WasmPool) Transfer(ctx context.Context, from, to, mint address.Pubkey, amount, fee uint64) ([ReceiptSize]byte, error) {
	var receipt [ReceiptSize]byte

	p.mu.Lock()
	defer p.mu.Unlock()

	in := make([]byte, 0, 3*address.PubkeySize)
	in = append(in, from[:]...)
	in = append(in, to[:]...)
	in = append(in, mint[:]...)

	ptr, err := p.alloc(ctx, uint32(len(in)+ReceiptSize))
	if err != nil {
		return receipt, err
	}
	defer p.dealloc(ctx, ptr)

	if !p.module.Memory().Write(ptr, in) {
		return receipt, ErrPoolMemory
	}
	out := ptr + uint32(len(in))
	results, err := p.transfer.Call(ctx,
		uint64(ptr),
		uint64(ptr+address.PubkeySize),
		uint64(ptr+2*address.PubkeySize),
		amount,
		fee,
		uint64(out))
	if err != nil {
		return receipt, fmt.Errorf("call %s: %w", exportTransfer, err)
	}
	if err := status("transfer", results); err != nil {
		return receipt, err
	}

	data, ok := p.module.Memory().Read(out, ReceiptSize)
	if !ok {
		return receipt, ErrPoolMemory
	}
	copy(receipt[:], data)
	return receipt, nil
}

func (p *WasmPool) Balance(ctx context.Context, owner, mint address.Pubkey) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in := make([]byte, 0, 2*address.PubkeySize)
	in = append(in, owner[:]...)
	in = append(in, mint[:]...)

	ptr, err := p.alloc(ctx, uint32(len(in)+8))
	if err != nil {
		return 0, err
	}
	defer p.dealloc(ctx, ptr)

	if !p.module.Memory().Write(ptr, in) {
		return 0, ErrPoolMemory
	}
	out := ptr + uint32(len(in))
	results, err := p.balance.Call(ctx, uint64(ptr), uint64(ptr+address.PubkeySize), uint64(out))
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", exportBalance, err)
	}
	if err := status("balance", results); err != nil {
		return 0, err
	}

	data, ok := p.module.Memory().Read(out, 8)
	if !ok {
		return 0, ErrPoolMemory
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (p *WasmPool) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := p.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", exportMalloc, err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("%w: allocation of %d bytes failed", ErrPoolMemory, size)
	}
	return uint32(results[0]), nil
}

func (p *WasmPool) dealloc(ctx context.Context, ptr uint32) {
	_, _ = p.free.Call(ctx, uint64(ptr))
}

func status(op string, results []uint64) error {
	if len(results) == 0 {
		return fmt.Errorf("%w: %s returned no status", ErrPoolABI, op)
	}
	if code := int32(results[0]); code != 0 {
		return &PoolError{Op: op, Status: code}
	}
	return nil
}
