package index

import (
	"container/heap"
	"io"
	"math/rand"
	"sort"
	"sync"

	"github.com/memvect/memvect/internal/encoding"
	"github.com/memvect/memvect/pkg/core"
)

// hnswNode is one vector in the HNSW graph, keyed by slot.
type hnswNode struct {
	slot      uint64
	vector    []float32
	recordID  string
	owner     string
	category  string
	level     int
	neighbors [][]uint64
}

// HNSWIndex is an approximate graph index for large stores. Vectors are
// normalized at insert; distance is 1 minus the inner product, so ordering
// matches cosine similarity exactly. On small stores it degrades to a scan
// of a fully connected graph and returns the same results as FlatIndex.
type HNSWIndex struct {
	mu  sync.RWMutex
	rng *rand.Rand

	dim            int
	m              int
	maxM           int
	efConstruction int

	nodes      map[uint64]*hnswNode
	entryPoint uint64
	hasEntry   bool
	nextSlot   uint64
}

// NewHNSWIndex creates an empty HNSW index with a fixed dimension and the
// usual construction parameters (M=16, efConstruction=200).
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{
		dim:            dim,
		m:              16,
		maxM:           32,
		efConstruction: 200,
		nodes:          make(map[uint64]*hnswNode),
		rng:            rand.New(rand.NewSource(1)),
	}
}

// selectLevel assigns a level with exponential decay.
func (h *HNSWIndex) selectLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 {
		level++
		if level > 16 {
			break
		}
	}
	return level
}

// distance is 1 - inner product over unit vectors.
func distance(a, b []float32) float64 {
	return 1.0 - core.DotProduct(a, b)
}

// Insert adds a vector and returns its slot.
func (h *HNSWIndex) Insert(recordID, owner, category string, vector []float32) (uint64, error) {
	if len(vector) != h.dim {
		return 0, ErrDimensionMismatch
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	slot := h.nextSlot
	h.nextSlot++

	h.insertNode(&hnswNode{
		slot:     slot,
		vector:   core.Normalize(vector),
		recordID: recordID,
		owner:    owner,
		category: category,
	})

	return slot, nil
}

// insertNode links a node into the graph. Callers hold h.mu.
func (h *HNSWIndex) insertNode(node *hnswNode) {
	level := h.selectLevel()
	node.level = level
	node.neighbors = make([][]uint64, level+1)
	for i := range node.neighbors {
		node.neighbors[i] = make([]uint64, 0)
	}

	h.nodes[node.slot] = node

	if !h.hasEntry {
		h.entryPoint = node.slot
		h.hasEntry = true
		return
	}

	entryNode := h.nodes[h.entryPoint]
	currNearest := []uint64{h.entryPoint}

	for lc := entryNode.level; lc > level; lc-- {
		currNearest = h.searchLayerClosest(node.vector, currNearest, 1, lc)
	}

	for lc := level; lc >= 0; lc-- {
		maxConn := h.m
		if lc == 0 {
			maxConn = h.maxM
		}

		candidates := h.searchLayer(node.vector, currNearest, h.efConstruction, lc)
		neighbors := h.selectNeighbors(node.vector, candidates, maxConn)

		node.neighbors[lc] = neighbors
		for _, neighbor := range neighbors {
			h.addConnection(neighbor, node.slot, lc)

			neighborNode := h.nodes[neighbor]
			if lc < len(neighborNode.neighbors) && len(neighborNode.neighbors[lc]) > maxConn {
				neighborNode.neighbors[lc] = h.selectNeighbors(
					neighborNode.vector,
					neighborNode.neighbors[lc],
					maxConn,
				)
			}
		}

		currNearest = neighbors
	}

	if level > h.nodes[h.entryPoint].level {
		h.entryPoint = node.slot
	}
}

// searchLayer performs a greedy beam search in one layer.
func (h *HNSWIndex) searchLayer(query []float32, entryPoints []uint64, ef, layer int) []uint64 {
	visited := make(map[uint64]bool)
	candidates := &distHeap{}
	nearest := &distHeap{} // negated distances, behaves as a max heap

	for _, point := range entryPoints {
		dist := distance(query, h.nodes[point].vector)
		heap.Push(candidates, &heapItem{slot: point, dist: dist})
		heap.Push(nearest, &heapItem{slot: point, dist: -dist})
		visited[point] = true
	}

	for candidates.Len() > 0 {
		if nearest.Len() > 0 && (*candidates)[0].dist > -(*nearest)[0].dist {
			break
		}

		current := heap.Pop(candidates).(*heapItem)
		currentNode := h.nodes[current.slot]

		if layer >= len(currentNode.neighbors) {
			continue
		}

		for _, neighbor := range currentNode.neighbors[layer] {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true

			dist := distance(query, h.nodes[neighbor].vector)
			if nearest.Len() < ef || dist < -(*nearest)[0].dist {
				heap.Push(candidates, &heapItem{slot: neighbor, dist: dist})
				heap.Push(nearest, &heapItem{slot: neighbor, dist: -dist})
				if nearest.Len() > ef {
					heap.Pop(nearest)
				}
			}
		}
	}

	result := make([]uint64, 0, nearest.Len())
	for nearest.Len() > 0 {
		item := heap.Pop(nearest).(*heapItem)
		result = append(result, item.slot)
	}
	for i := 0; i < len(result)/2; i++ {
		result[i], result[len(result)-1-i] = result[len(result)-1-i], result[i]
	}

	return result
}

// searchLayerClosest finds the closest points in a layer.
func (h *HNSWIndex) searchLayerClosest(query []float32, entryPoints []uint64, num, layer int) []uint64 {
	candidates := h.searchLayer(query, entryPoints, num, layer)
	if len(candidates) > num {
		return candidates[:num]
	}
	return candidates
}

// selectNeighbors keeps the m closest candidates.
func (h *HNSWIndex) selectNeighbors(query []float32, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		out := make([]uint64, len(candidates))
		copy(out, candidates)
		return out
	}

	type pair struct {
		slot uint64
		dist float64
	}
	pairs := make([]pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = pair{slot: c, dist: distance(query, h.nodes[c].vector)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].slot < pairs[j].slot
	})

	result := make([]uint64, m)
	for i := 0; i < m; i++ {
		result[i] = pairs[i].slot
	}
	return result
}

// addConnection adds a one-way link if it does not already exist.
func (h *HNSWIndex) addConnection(from, to uint64, layer int) {
	fromNode, exists := h.nodes[from]
	if !exists || layer >= len(fromNode.neighbors) {
		return
	}
	for _, neighbor := range fromNode.neighbors[layer] {
		if neighbor == to {
			return
		}
	}
	fromNode.neighbors[layer] = append(fromNode.neighbors[layer], to)
}

// Search returns the best-scoring hits for the query.
func (h *HNSWIndex) Search(query []float32, opts Options) []Hit {
	if len(query) != h.dim || opts.TopK <= 0 {
		return nil
	}

	q := core.Normalize(query)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil
	}

	ef := 50
	if opts.TopK*4 > ef {
		ef = opts.TopK * 4
	}

	entryNode := h.nodes[h.entryPoint]
	currNearest := []uint64{h.entryPoint}
	for layer := entryNode.level; layer > 0; layer-- {
		currNearest = h.searchLayerClosest(q, currNearest, 1, layer)
	}

	candidates := h.searchLayer(q, currNearest, ef, 0)

	hits := make([]Hit, 0, len(candidates))
	for _, slot := range candidates {
		node := h.nodes[slot]
		if node.recordID == "" {
			continue
		}
		if opts.Owner != "" && node.owner != opts.Owner {
			continue
		}

		score := core.DotProduct(q, node.vector)
		if score < opts.MinScore {
			continue
		}

		hits = append(hits, Hit{
			RecordID: node.recordID,
			Score:    score,
			Owner:    node.owner,
			Category: node.category,
			Slot:     node.slot,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Slot < hits[j].Slot
	})

	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

// Size returns the number of nodes.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Dim returns the fixed vector dimension.
func (h *HNSWIndex) Dim() int {
	return h.dim
}

// Save writes the index to w in the shared snapshot format. Only entries are
// persisted; the graph is rebuilt on load.
func (h *HNSWIndex) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := snapshot{
		Dim:      h.dim,
		NextSlot: h.nextSlot,
		Entries:  make([]snapshotEntry, 0, len(h.nodes)),
	}
	for _, node := range h.nodes {
		snap.Entries = append(snap.Entries, snapshotEntry{
			Slot:     node.slot,
			Vector:   node.vector,
			RecordID: node.recordID,
			Owner:    node.owner,
			Category: node.category,
		})
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Slot < snap.Entries[j].Slot })

	return writeSnapshot(w, &snap)
}

// Load replaces the index state from r, rebuilding the graph by reinserting
// entries in slot order.
func (h *HNSWIndex) Load(r io.Reader) error {
	snap, err := readSnapshot(r)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dim = snap.Dim
	h.nextSlot = snap.NextSlot
	h.nodes = make(map[uint64]*hnswNode, len(snap.Entries))
	h.hasEntry = false
	h.entryPoint = 0
	h.rng = rand.New(rand.NewSource(1))

	for _, se := range snap.Entries {
		h.insertNode(&hnswNode{
			slot:     se.Slot,
			vector:   se.Vector,
			recordID: se.RecordID,
			owner:    se.Owner,
			category: se.Category,
		})
	}

	return nil
}

// heapItem for the layer-search priority queues.
type heapItem struct {
	slot uint64
	dist float64
}

type distHeap []*heapItem

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *distHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}
