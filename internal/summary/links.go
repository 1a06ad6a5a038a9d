package summary

// links.go builds the graph of usable links between vehicles.  Two vehicles
// are adjacent when the links in both directions are usable; each edge has
// weight 1 so that shortest paths minimize the number of relay hops.

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type linkGraph struct {
	g       *simple.WeightedUndirectedGraph
	tokens  []string
	byToken map[string]int64

	// shortest path trees already computed, by root
	cachedSP map[int64]path.Shortest
}

func buildLinkGraph(tokens []string, usable map[pairKey]bool) *linkGraph {
	lg := &linkGraph{
		g:        simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		tokens:   tokens,
		byToken:  make(map[string]int64, len(tokens)),
		cachedSP: make(map[int64]path.Shortest),
	}
	for idx, token := range tokens {
		lg.g.AddNode(simple.Node(idx))
		lg.byToken[token] = int64(idx)
	}
	for key, ok := range usable {
		if !ok || key.sender >= key.receiver {
			continue
		}
		if !usable[pairKey{sender: key.receiver, receiver: key.sender}] {
			continue
		}
		from, to := lg.g.Node(int64(key.sender)), lg.g.Node(int64(key.receiver))
		if from == nil || to == nil {
			continue
		}
		lg.g.SetWeightedEdge(simple.WeightedEdge{F: from, T: to, W: 1.0})
	}
	return lg
}

// spTree returns the shortest path tree rooted at id
func (lg *linkGraph) spTree(id int64) path.Shortest {
	tree, present := lg.cachedSP[id]
	if !present {
		tree = path.DijkstraFrom(lg.g.Node(id), lg.g)
		lg.cachedSP[id] = tree
	}
	return tree
}

// clusters lists the connected components as token lists, each in handle
// order, ordered by their first member.
func (lg *linkGraph) clusters() [][]string {
	comps := topo.ConnectedComponents(lg.g)
	ids := make([][]int64, 0, len(comps))
	for _, comp := range comps {
		members := make([]int64, len(comp))
		for idx, n := range comp {
			members[idx] = n.ID()
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		ids = append(ids, members)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i][0] < ids[j][0] })

	out := make([][]string, len(ids))
	for idx, members := range ids {
		out[idx] = make([]string, len(members))
		for jdx, id := range members {
			out[idx][jdx] = lg.tokens[id]
		}
	}
	return out
}

// diameter is the largest finite hop count between any two vehicles
func (lg *linkGraph) diameter() int {
	longest := 0.0
	nodes := graph.NodesOf(lg.g.Nodes())
	for _, from := range nodes {
		tree := lg.spTree(from.ID())
		for _, to := range nodes {
			w := tree.WeightTo(to.ID())
			if !math.IsInf(w, 1) && w > longest {
				longest = w
			}
		}
	}
	return int(longest)
}

// route is the hop-minimal token sequence from one vehicle to another
func (lg *linkGraph) route(from, to string) []string {
	src, ok := lg.byToken[from]
	if !ok {
		return nil
	}
	dst, ok := lg.byToken[to]
	if !ok {
		return nil
	}
	nodeSeq, w := lg.spTree(src).To(dst)
	if math.IsInf(w, 1) || len(nodeSeq) == 0 {
		return nil
	}
	seq := make([]string, len(nodeSeq))
	for idx, n := range nodeSeq {
		seq[idx] = lg.tokens[n.ID()]
	}
	return seq
}
