package contracts

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/altuslabsxyz/dapp-builder/internal/registry"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

const tokenABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
	{"type":"error","name":"InsufficientBalance",
	 "inputs":[{"name":"available","type":"uint256"},{"name":"required","type":"uint256"}]}
]`

func tokenType(t *testing.T, sourceID string) *chain.ContractType {
	t.Helper()
	ct, err := chain.ParseABI("Token", sourceID, []byte(tokenABI), []byte{0x60, 0x80})
	require.NoError(t, err)
	return ct
}

func newBoltRegistry(t *testing.T, path string, opts ...Option) *Registry {
	t.Helper()
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	r, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGetOrBuild_SingleFlight(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	var calls atomic.Int32
	build := func(context.Context) (*chain.ContractType, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return tokenType(t, "0xabc"), nil
	}

	const n = 16
	results := make([]*chain.ContractType, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ct, err := r.GetOrBuild(context.Background(), "0xabc", build)
			assert.NoError(t, err)
			results[i] = ct
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, ct := range results {
		assert.Same(t, results[0], ct)
	}
}

func TestGetOrBuild_FailuresNotCached(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	boom := errors.New("compiler crashed")
	_, err = r.GetOrBuild(ctx, "k", func(context.Context) (*chain.ContractType, error) {
		return nil, boom
	})
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.ErrorIs(t, err, boom)

	ct, err := r.GetOrBuild(ctx, "k", func(context.Context) (*chain.ContractType, error) {
		return tokenType(t, "k"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Token", ct.Name)

	_, err = r.GetOrBuild(ctx, "nil", func(context.Context) (*chain.ContractType, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestGetOrBuild_WaiterCancellation(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ct, err := r.GetOrBuild(context.Background(), "slow", func(context.Context) (*chain.ContractType, error) {
			close(started)
			<-release
			return tokenType(t, "slow"), nil
		})
		assert.NoError(t, err)
		assert.NotNil(t, ct)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.GetOrBuild(ctx, "slow", func(context.Context) (*chain.ContractType, error) {
		t.Error("second builder must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestGetOrBuild_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.db")
	ctx := context.Background()

	first := newBoltRegistry(t, path)
	built, err := first.GetOrBuild(ctx, "0x01", func(context.Context) (*chain.ContractType, error) {
		return tokenType(t, "0x01"), nil
	})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newBoltRegistry(t, path)
	cached, err := second.GetOrBuild(ctx, "0x01", func(context.Context) (*chain.ContractType, error) {
		t.Error("expected a cache hit")
		return nil, errors.New("unexpected build")
	})
	require.NoError(t, err)
	assert.Equal(t, built.Fingerprint(), cached.Fingerprint())

	// Custom errors of a type loaded from disk are decodable.
	sel := cached.Errors[0].Selector()
	abiDef, err := cached.ABI()
	require.NoError(t, err)
	data, err := abiDef.Errors["InsufficientBalance"].Inputs.Pack(big.NewInt(5), big.NewInt(10))
	require.NoError(t, err)
	reason, ok := second.DecodeRevert(append(sel[:], data...))
	require.True(t, ok)
	assert.Equal(t, "InsufficientBalance(5, 10)", reason)
}

func TestGetOrBuild_CorruptEntriesAreMisses(t *testing.T) {
	good := envelopeBytes(t, "0xgood", tokenType(t, "0xgood"))

	tests := []struct {
		name string
		key  string
		raw  []byte
	}{
		{name: "garbage", key: "0x01", raw: []byte("{not json")},
		{name: "wrong schema", key: "0x02", raw: []byte(`{"schema":99,"source_hash":"0x02","checksum":"","contract_type":{}}`)},
		{name: "checksum mismatch", key: "0x03", raw: []byte(`{"schema":1,"source_hash":"0x03","checksum":"0xdead","contract_type":{"name":"X"}}`)},
		{name: "key mismatch", key: "0x04", raw: good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "contracts.db")
			r := newBoltRegistry(t, path)
			store := r.store.(*BoltStore)
			require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketContractTypes).Put([]byte(tt.key), tt.raw)
			}))

			_, err := store.Get(context.Background(), tt.key)
			assert.ErrorIs(t, err, ErrCacheCorruption)

			var calls int
			ct, err := r.GetOrBuild(context.Background(), tt.key, func(context.Context) (*chain.ContractType, error) {
				calls++
				return tokenType(t, tt.key), nil
			})
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.key, ct.SourceID)

			// The rebuilt entry replaced the corrupt one.
			stored, err := store.Get(context.Background(), tt.key)
			require.NoError(t, err)
			assert.Equal(t, ct.Fingerprint(), stored.Fingerprint())
		})
	}
}

// envelopeBytes returns the entry Put writes for ct under key.
func envelopeBytes(t *testing.T, key string, ct *chain.ContractType) []byte {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "scratch.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(context.Background(), key, ct))

	var out []byte
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		out = append(out, tx.Bucket(bucketContractTypes).Get([]byte(key))...)
		return nil
	}))
	return out
}

func TestGetOrBuildSourceAndPrune(t *testing.T) {
	r, err := New(NewMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()

	files := map[string][]byte{
		"contracts/Token.json": []byte("v1"),
		"contracts/Vault.json": []byte("vault"),
	}
	read := func(path string) ([]byte, error) {
		content, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return content, nil
	}

	var builds int
	build := func(context.Context) (*chain.ContractType, error) {
		builds++
		return tokenType(t, ""), nil
	}
	for path, content := range files {
		_, err := r.GetOrBuildSource(ctx, path, content, build)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, builds)

	pruned, err := r.Prune(ctx, read)
	require.NoError(t, err)
	assert.Empty(t, pruned)

	files["contracts/Token.json"] = []byte("v2")
	delete(files, "contracts/Vault.json")
	pruned, err = r.Prune(ctx, read)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contracts/Token.json", "contracts/Vault.json"}, pruned)

	_, err = r.store.Get(ctx, chain.SourceHash([]byte("v1")))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.GetOrBuildSource(ctx, "contracts/Token.json", files["contracts/Token.json"], build)
	require.NoError(t, err)
	assert.Equal(t, 3, builds)
}

type countingCompiler struct {
	calls atomic.Int32
}

func (c *countingCompiler) Name() string         { return "abi-test" }
func (c *countingCompiler) Kind() plugin.Kind    { return plugin.KindCompiler }
func (c *countingCompiler) Extensions() []string { return []string{".abi"} }

func (c *countingCompiler) Compile(_ context.Context, path string, content []byte) ([]*chain.ContractType, error) {
	c.calls.Add(1)
	ct, err := chain.ParseABI("Token", "", content, nil)
	if err != nil {
		return nil, err
	}
	return []*chain.ContractType{ct}, nil
}

func TestCompile_CachedAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.db")
	ctx := context.Background()

	compiler := &countingCompiler{}
	reg := registry.New()
	require.NoError(t, reg.Register(compiler))
	reg.Freeze()

	first := newBoltRegistry(t, path, WithCompilers(reg))
	types, err := first.Compile(ctx, "", "Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "Token.abi", types[0].SourcePath)
	assert.Equal(t, chain.SourceHash([]byte(tokenABI)), types[0].SourceID)
	require.NoError(t, first.Close())

	second := newBoltRegistry(t, path, WithCompilers(reg))
	again, err := second.Compile(ctx, "abi-test", "Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, types[0].Fingerprint(), again[0].Fingerprint())
	assert.Equal(t, int32(1), compiler.calls.Load())

	_, err = second.Compile(ctx, "", "Token.vy", []byte("x"))
	assert.ErrorIs(t, err, registry.ErrUnknownCapability)
}

type altCompiler struct {
	countingCompiler
}

func (c *altCompiler) Name() string         { return "abi-alt" }
func (c *altCompiler) Extensions() []string { return []string{".json"} }

func TestCompile_SamePathAndCompilerKeying(t *testing.T) {
	ctx := context.Background()
	primary := &countingCompiler{}
	alt := &altCompiler{}
	reg := registry.New()
	require.NoError(t, reg.Register(primary))
	require.NoError(t, reg.Register(alt))
	reg.Freeze()

	r := newBoltRegistry(t, filepath.Join(t.TempDir(), "contracts.db"), WithCompilers(reg))

	a, err := r.Compile(ctx, "", "a/Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	b, err := r.Compile(ctx, "", "b/Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	assert.Equal(t, "a/Token.abi", a[0].SourcePath)
	assert.Equal(t, "b/Token.abi", b[0].SourcePath)
	assert.Equal(t, a[0].SourceID, b[0].SourceID)

	again, err := r.Compile(ctx, "", "a/Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	assert.Equal(t, "a/Token.abi", again[0].SourcePath)
	require.Equal(t, int32(2), primary.calls.Load())

	// An explicit compiler is honoured even when another one cached the source.
	_, err = r.Compile(ctx, "abi-alt", "a/Token.abi", []byte(tokenABI))
	require.NoError(t, err)
	assert.Equal(t, int32(1), alt.calls.Load())
	assert.Equal(t, int32(2), primary.calls.Load())

	rec, err := r.store.Source(ctx, "a/Token.abi")
	require.NoError(t, err)
	assert.Equal(t, "abi-alt", rec.Compiler)
	assert.Equal(t, []string{CompileKey(chain.SourceHash([]byte(tokenABI)), "abi-alt", "Token")}, rec.Keys)
}

func TestDecodeRevert(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	reason, ok := r.DecodeRevert(chain.EncodeRevert("insufficient balance"))
	require.True(t, ok)
	assert.Equal(t, "insufficient balance", reason)

	_, ok = r.DecodeRevert(nil)
	assert.False(t, ok)
	_, ok = r.DecodeRevert([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.False(t, ok)
}
