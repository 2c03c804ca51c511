package classifier

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// WasmEngine runs the embedded classification model as a sandboxed WASM
// guest module via wazero. Access to the loaded module is serialized
// through a single-writer lock; inference runs on the calling goroutine,
// which callers are expected to dispatch to a worker pool themselves.
type WasmEngine struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	infer   api.Function
	loaded  bool
}

// NewWasmEngine constructs an engine without loading a module. Call Load
// to lazily load on first use, per spec §4.3's "model lifecycle" note.
func NewWasmEngine() *WasmEngine {
	return &WasmEngine{}
}

// Load reads the WASM module at path and instantiates it. Safe to call
// more than once; subsequent calls are no-ops if already loaded.
func (e *WasmEngine) Load(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("classifier: read wasm module: %w", err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(64))
	mod, err := rt.Instantiate(ctx, data)
	if err != nil {
		rt.Close(ctx)
		return fmt.Errorf("classifier: instantiate wasm module: %w", err)
	}

	fn := mod.ExportedFunction("classify")
	if fn == nil {
		rt.Close(ctx)
		return fmt.Errorf("classifier: wasm module does not export 'classify'")
	}

	e.runtime = rt
	e.module = mod
	e.infer = fn
	e.loaded = true
	return nil
}

// Unload releases the WASM runtime, e.g. under memory pressure.
func (e *WasmEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.loaded = false
	e.runtime, e.module, e.infer = nil, nil, nil
	return err
}

// Available reports whether a module is currently loaded.
func (e *WasmEngine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Infer passes prompt to the loaded module's classify export and reads
// back its result from guest memory. The guest ABI is:
// classify(ptr, len) -> (resultPtr, resultLen) packed into one i64.
func (e *WasmEngine) Infer(prompt string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return "", ErrModelNotLoaded
	}

	ctx := context.Background()
	mem := e.module.Memory()

	alloc := e.module.ExportedFunction("allocate")
	if alloc == nil {
		return "", fmt.Errorf("classifier: wasm module does not export 'allocate'")
	}

	promptBytes := []byte(prompt)
	res, err := alloc.Call(ctx, uint64(len(promptBytes)))
	if err != nil {
		return "", fmt.Errorf("classifier: wasm allocate failed: %w", err)
	}
	ptr := uint32(res[0])

	if !mem.Write(ptr, promptBytes) {
		return "", fmt.Errorf("classifier: failed writing prompt into wasm memory")
	}

	packed, err := e.infer.Call(ctx, uint64(ptr), uint64(len(promptBytes)))
	if err != nil {
		return "", fmt.Errorf("classifier: wasm inference failed: %w", err)
	}

	resultPtr := uint32(packed[0] >> 32)
	resultLen := uint32(packed[0])

	out, ok := mem.Read(resultPtr, resultLen)
	if !ok {
		return "", fmt.Errorf("classifier: failed reading wasm result")
	}
	return string(out), nil
}
