// Package cluster implements density-based clustering shared by the burst
// detector and the topic modeler.
package cluster

// Noise labels points that belong to no cluster.
const Noise = -1

// DistanceFunc returns the distance between points i and j.
type DistanceFunc func(i, j int) float64

// DBSCAN labels n points. A point is core when at least minSamples points,
// itself included, lie within eps of it. Clusters are numbered from 0 in the
// order their first core point appears; border points join the first cluster
// that reaches them.
func DBSCAN(n int, eps float64, minSamples int, dist DistanceFunc) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return labels
	}

	neighborhoods := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || dist(i, j) <= eps {
				neighborhoods[i] = append(neighborhoods[i], j)
			}
		}
	}

	core := make([]bool, n)
	for i, nb := range neighborhoods {
		core[i] = len(nb) >= minSamples
	}

	next := 0
	var stack []int
	for start := 0; start < n; start++ {
		if labels[start] != Noise || !core[start] {
			continue
		}

		i := start
		for {
			if labels[i] == Noise {
				labels[i] = next
				if core[i] {
					for _, v := range neighborhoods[i] {
						if labels[v] == Noise {
							stack = append(stack, v)
						}
					}
				}
			}
			if len(stack) == 0 {
				break
			}
			i = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		next++
	}

	return labels
}

// Members groups point indices by label, noise included.
func Members(labels []int) map[int][]int {
	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	return groups
}
