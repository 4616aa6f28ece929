// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package hnsw

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrDimensionMismatch = errors.New("hnsw: vector dimension mismatch")
	ErrEmptyGraph        = errors.New("hnsw: graph is empty")
	ErrCorruptSnapshot   = errors.New("hnsw: corrupt snapshot")
)

// Config carries the construction parameters. All validators must agree on
// every field; they are part of consensus.
type Config struct {
	M              int     // Neighbor bound per node per layer; layer 0 uses 2M
	EfConstruction int     // Beam width during insertion
	MaxLevel       uint8   // Hard cap on drawn levels
	Dimension      int     // Vector dimension
	ML             float64 // Level multiplier, conventionally 1/ln(M)
}

// DefaultConfig returns the protocol construction parameters for the given
// dimension.
func DefaultConfig(dim int) Config {
	m := 16
	return Config{
		M:              m,
		EfConstruction: 200,
		MaxLevel:       16,
		Dimension:      dim,
		ML:             1 / math.Log(float64(m)),
	}
}

func (c Config) layerCap(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

// SearchResult is one nearest-neighbor hit: the node id and the fixed-point
// squared distance to the query.
type SearchResult struct {
	ID       uint64
	Distance FixedPoint
}

type node struct {
	id     uint64
	level  uint8
	vector Vector
	// neighbors[l] holds the layer-l adjacency sorted by ascending squared
	// distance to this node, ties by ascending id.
	neighbors [][]uint64
}

// Graph is the hierarchical navigable small-world index. Node 0 becomes the
// entry point on first insert; the entry point moves whenever an insert draws
// a level above every previous one. Searches take the read lock and may run
// concurrently; inserts are exclusive.
type Graph struct {
	mu       sync.RWMutex
	cfg      Config
	nodes    []*node
	entry    uint64
	hasEntry bool
	topLevel uint8
}

// NewGraph creates an empty index with the given parameters.
func NewGraph(cfg Config) *Graph {
	return &Graph{cfg: cfg}
}

// Len returns the number of inserted vectors.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// MaxLevel returns the highest level any node occupies.
func (g *Graph) MaxLevel() uint8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topLevel
}

// distEntry orders candidates by (distance, id) ascending. The id tie-break
// is what keeps two validators' beams identical when distances collide.
type distEntry struct {
	id   uint64
	dist FixedPoint
}

func entryLess(a, b distEntry) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// minQueue pops the nearest entry first.
type minQueue []distEntry

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return entryLess(q[i], q[j]) }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x interface{}) { *q = append(*q, x.(distEntry)) }
func (q *minQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// maxQueue pops the farthest entry first; it bounds the result set to ef.
type maxQueue []distEntry

func (q maxQueue) Len() int            { return len(q) }
func (q maxQueue) Less(i, j int) bool  { return entryLess(q[j], q[i]) }
func (q maxQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxQueue) Push(x interface{}) { *q = append(*q, x.(distEntry)) }
func (q *maxQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Insert adds a vector to the index, drawing its level from rng, and returns
// the assigned node id. The caller supplies the RNG seeded from the
// originating transaction so construction replays identically everywhere.
func (g *Graph) Insert(vec Vector, rng *Rng) (uint64, error) {
	if vec.Dim() != g.cfg.Dimension {
		return 0, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, g.cfg.Dimension, vec.Dim())
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	level := rng.NextLevel(g.cfg.MaxLevel, g.cfg.ML)
	id := uint64(len(g.nodes))
	n := &node{
		id:        id,
		level:     level,
		vector:    vec.Clone(),
		neighbors: make([][]uint64, int(level)+1),
	}
	g.nodes = append(g.nodes, n)

	if !g.hasEntry {
		g.entry = id
		g.hasEntry = true
		g.topLevel = level
		return id, nil
	}

	// Greedy descent through the layers above the new node's level.
	ep := g.entry
	for lc := int(g.topLevel); lc > int(level); lc-- {
		ep = g.closestAtLayer(vec, ep, lc)
	}

	start := int(level)
	if int(g.topLevel) < start {
		start = int(g.topLevel)
	}
	for lc := start; lc >= 0; lc-- {
		candidates := g.searchLayer(vec, ep, g.cfg.EfConstruction, lc)
		selected := g.selectNeighbors(vec, candidates, g.cfg.M)

		ids := make([]uint64, len(selected))
		for i, s := range selected {
			ids[i] = s.id
		}
		n.neighbors[lc] = ids

		for _, s := range selected {
			g.link(s.id, id, lc)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > g.topLevel {
		g.topLevel = level
		g.entry = id
	}
	return id, nil
}

// closestAtLayer runs the layer-local greedy walk with beam width 1.
func (g *Graph) closestAtLayer(q Vector, entry uint64, layer int) uint64 {
	best := distEntry{id: entry, dist: q.SquaredDistance(g.nodes[entry].vector)}
	for {
		improved := false
		for _, nid := range g.neighborsAt(best.id, layer) {
			cand := distEntry{id: nid, dist: q.SquaredDistance(g.nodes[nid].vector)}
			if entryLess(cand, best) {
				best = cand
				improved = true
			}
		}
		if !improved {
			return best.id
		}
	}
}

func (g *Graph) neighborsAt(id uint64, layer int) []uint64 {
	n := g.nodes[id]
	if layer >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[layer]
}

// searchLayer is the best-first beam search at one layer, returning up to ef
// entries sorted by (distance, id) ascending.
func (g *Graph) searchLayer(q Vector, entry uint64, ef int, layer int) []distEntry {
	seed := distEntry{id: entry, dist: q.SquaredDistance(g.nodes[entry].vector)}

	visited := map[uint64]struct{}{entry: {}}
	candidates := minQueue{seed}
	results := maxQueue{seed}

	for candidates.Len() > 0 {
		current := heap.Pop(&candidates).(distEntry)
		if results.Len() >= ef && entryLess(results[0], current) {
			break
		}
		for _, nid := range g.neighborsAt(current.id, layer) {
			if _, seen := visited[nid]; seen {
				continue
			}
			visited[nid] = struct{}{}
			cand := distEntry{id: nid, dist: q.SquaredDistance(g.nodes[nid].vector)}
			if results.Len() < ef || entryLess(cand, results[0]) {
				heap.Push(&candidates, cand)
				heap.Push(&results, cand)
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := append([]distEntry(nil), results...)
	sort.Slice(out, func(i, j int) bool { return entryLess(out[i], out[j]) })
	return out
}

// selectNeighbors applies the construction heuristic: walk the candidates in
// ascending (distance, id) order and keep one unless it is dominated by an
// already-kept neighbor that sits closer to it than the query does.
func (g *Graph) selectNeighbors(q Vector, candidates []distEntry, m int) []distEntry {
	selected := make([]distEntry, 0, m)
	for _, cand := range candidates {
		if len(selected) >= m {
			break
		}
		dominated := false
		for _, kept := range selected {
			between := g.nodes[cand.id].vector.SquaredDistance(g.nodes[kept.id].vector)
			if between < cand.dist {
				dominated = true
				break
			}
		}
		if !dominated {
			selected = append(selected, cand)
		}
	}
	return selected
}

// link back-links newID into owner's layer adjacency, keeping the list sorted
// by distance to the owner and pruned to the layer bound with the same
// heuristic used at construction.
func (g *Graph) link(owner, newID uint64, layer int) {
	ownerNode := g.nodes[owner]
	if layer >= len(ownerNode.neighbors) {
		return
	}
	current := ownerNode.neighbors[layer]
	entries := make([]distEntry, 0, len(current)+1)
	for _, nid := range current {
		entries = append(entries, distEntry{
			id:   nid,
			dist: ownerNode.vector.SquaredDistance(g.nodes[nid].vector),
		})
	}
	entries = append(entries, distEntry{
		id:   newID,
		dist: ownerNode.vector.SquaredDistance(g.nodes[newID].vector),
	})
	sort.Slice(entries, func(i, j int) bool { return entryLess(entries[i], entries[j]) })

	bound := g.cfg.layerCap(layer)
	if len(entries) > bound {
		entries = g.selectNeighbors(ownerNode.vector, entries, bound)
	}
	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	ownerNode.neighbors[layer] = ids
}

// Search returns the k nearest neighbors of q using beam width ef at layer 0,
// sorted by (distance, id) ascending.
func (g *Graph) Search(q Vector, k, ef int) ([]SearchResult, error) {
	if q.Dim() != g.cfg.Dimension {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, g.cfg.Dimension, q.Dim())
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasEntry {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	ep := g.entry
	for lc := int(g.topLevel); lc > 0; lc-- {
		ep = g.closestAtLayer(q, ep, lc)
	}
	found := g.searchLayer(q, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]SearchResult, len(found))
	for i, e := range found {
		out[i] = SearchResult{ID: e.id, Distance: e.dist}
	}
	return out, nil
}

// Serialize produces the canonical byte form of the graph: node ids, levels,
// raw vector bits and adjacency in insertion order. Two validators holding
// the same graph produce identical bytes; the form doubles as the vector
// store's state commitment input.
func (g *Graph) Serialize() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.cfg.Dimension))
	if g.hasEntry {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, g.entry)
	buf = append(buf, g.topLevel)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(g.nodes)))

	for _, n := range g.nodes {
		buf = binary.LittleEndian.AppendUint64(buf, n.id)
		buf = append(buf, n.level)
		for _, c := range n.vector.comps {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Bits()))
		}
		for layer := 0; layer <= int(n.level); layer++ {
			adj := n.neighbors[layer]
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(adj)))
			for _, nid := range adj {
				buf = binary.LittleEndian.AppendUint64(buf, nid)
			}
		}
	}
	return buf
}

// Deserialize reconstructs a graph from its canonical byte form.
func Deserialize(data []byte, cfg Config) (*Graph, error) {
	r := &byteReader{data: data}

	dim, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if int(dim) != cfg.Dimension {
		return nil, fmt.Errorf("%w: want dimension %d, got %d", ErrCorruptSnapshot, cfg.Dimension, dim)
	}
	hasEntry, err := r.byte()
	if err != nil {
		return nil, err
	}
	entry, err := r.uint64()
	if err != nil {
		return nil, err
	}
	topLevel, err := r.byte()
	if err != nil {
		return nil, err
	}
	count, err := r.uint64()
	if err != nil {
		return nil, err
	}

	g := NewGraph(cfg)
	g.hasEntry = hasEntry == 1
	g.entry = entry
	g.topLevel = topLevel
	g.nodes = make([]*node, 0, count)

	for i := uint64(0); i < count; i++ {
		id, err := r.uint64()
		if err != nil {
			return nil, err
		}
		if id != i {
			return nil, fmt.Errorf("%w: node id %d at position %d", ErrCorruptSnapshot, id, i)
		}
		level, err := r.byte()
		if err != nil {
			return nil, err
		}
		comps := make([]FixedPoint, cfg.Dimension)
		for j := range comps {
			raw, err := r.uint64()
			if err != nil {
				return nil, err
			}
			comps[j] = FromBits(int64(raw))
		}
		neighbors := make([][]uint64, int(level)+1)
		for layer := 0; layer <= int(level); layer++ {
			n, err := r.uint32()
			if err != nil {
				return nil, err
			}
			adj := make([]uint64, n)
			for k := range adj {
				adj[k], err = r.uint64()
				if err != nil {
					return nil, err
				}
			}
			neighbors[layer] = adj
		}
		g.nodes = append(g.nodes, &node{id: id, level: level, vector: Vector{comps: comps}, neighbors: neighbors})
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.remaining())
	}
	return g, nil
}

// RootHash commits to the canonical serialization. The empty store commits to
// the zero hash, matching the state's empty sub-tree convention.
func (g *Graph) RootHash() common.Hash {
	g.mu.RLock()
	empty := len(g.nodes) == 0
	g.mu.RUnlock()
	if empty {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(g.Serialize())
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.off }

func (r *byteReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrCorruptSnapshot
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrCorruptSnapshot
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrCorruptSnapshot
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}
