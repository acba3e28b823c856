// Package cache provides content-addressed memoization for the two-stage
// flashcard pipeline.
//
// It provides a Cache interface with an in-process LRU (Tier 1) and a
// filesystem-backed Tier 2, SHA-256 canonical-JSON key derivation, and TTL
// policies with entry-count/byte-size bounds.
//
// # Ecosystem Position
//
// cache sits between a stage worker and the LLM client, absorbing
// duplicate Stage 1/Stage 2 calls for terms already seen:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                      Stage Worker Flow                          │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│   worker              cache              llm.Client             │
//	│   ┌──────┐         ┌───────────┐        ┌─────────┐            │
//	│   │ Term │────────▶│ StageCache│───────▶│ HTTP    │            │
//	│   │ Call │         │           │  miss  │ Call    │            │
//	│   └──────┘         │ ┌───────┐ │        └─────────┘            │
//	│       ▲            │ │Keyer  │ │              │                 │
//	│       │            │ ├───────┤ │              │                 │
//	│       │            │ │Tier1  │◀──────────────┘                 │
//	│       │            │ ├───────┤ │   store                       │
//	│       │    hit     │ │Tier2  │ │                                │
//	│       └────────────│ └───────┘ │                                │
//	│                    └───────────┘                                │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Core Components
//
//   - [Cache]: Interface for caching stage results (Get/Set/Delete)
//   - [MemoryCache]: Tier 1, an LRU bounded by entry count and bytes
//   - [FileCache]: Tier 2, atomic-write filesystem cache sharded by key prefix
//   - [TwoTierCache]: Composes Tier 1 and Tier 2 behind one Cache
//   - [StageCache]: Typed Stage 1/Stage 2 cache with singleflight coalescing
//   - [Keyer] / [StageKeyer]: Deterministic cache key generation
//   - [Policy]: Configures TTL defaults, maximums, and size bounds
//
// # Quick Start
//
//	policy := cache.DefaultPolicy()
//	tier1 := cache.NewMemoryCache(policy)
//	tier2, _ := cache.NewFileCache("/var/lib/flashpipe/cache")
//	backend := cache.NewTwoTierCache(tier1, tier2)
//	sc := cache.NewStageCache[llm.Stage1Result, llm.Stage2Result](backend, policy)
//
//	result, fromCache, err := sc.LoadStage1(ctx, term, typ, func(ctx context.Context) (llm.Stage1Result, int, error) {
//	    r, usage, err := llmClient.ProcessStage1(ctx, term, typ)
//	    return r, usage.TotalTokens, err
//	})
//
// # Key Generation
//
// [StageKeyer] generates the keys SPEC_FULL.md §4.3 mandates:
//
//	s1 key = SHA256("s1|" + normalize(term) + "|" + normalize(type))
//	s2 key = SHA256("s2|" + normalize(term) + "|" + canonicalJSON(stage1Result))
//
// Canonical JSON ensures map keys are sorted for deterministic serialization,
// so two semantically identical Stage 1 results always hash to the same
// Stage 2 key.
//
// # TTL and Size Policies
//
// The [Policy] type controls caching behavior:
//
//   - DefaultTTL: Applied when no specific TTL is provided
//   - MaxTTL: Upper bound for any TTL
//   - MaxEntries / MaxBytes: Tier 1 LRU eviction bounds
//
// Preset policies:
//
//   - [DefaultPolicy]: 5 minute default, 1 hour max, 10k entries / 64MiB
//   - [NoCachePolicy]: Disabled (0 TTL)
//
// # Thread Safety
//
// All exported types are safe for concurrent use:
//
//   - [MemoryCache]: mutex-protected LRU
//   - [FileCache]: atomic rename, safe for concurrent readers/writers
//   - [StageCache]: singleflight.Group coalesces concurrent identical loads
//   - [Policy]: Immutable struct, concurrent-safe
//
// # Error Handling
//
// Sentinel errors (use errors.Is for checking):
//
//   - [ErrNilCache]: Cache is nil
//   - [ErrInvalidKey]: Key is empty, whitespace-only, or contains newlines
//   - [ErrKeyTooLong]: Key exceeds MaxKeyLength (512 characters)
//
// Note: Cache.Get never returns errors - it returns (nil, false) on miss.
// A corrupted Tier 2 file is likewise treated as a miss; FileCache.Corruptions
// counts these.
package cache
