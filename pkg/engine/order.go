package engine

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/logging"
	"github.com/user/hostguard/pkg/rules"
)

// Order layers specs so every rule comes after the rules it depends on.
// Duplicate numbers keep the first spec seen; dependencies on rules that are
// not loaded are ignored with a warning. Within a layer rules run in number
// order, so the result is the same on every run.
func Order(specs []rules.Spec, log *zap.Logger) ([][]rules.Spec, error) {
	log = logging.OrNop(log)

	var unique []rules.Spec
	seen := make(map[uint16]bool)
	for _, s := range specs {
		if seen[s.Number] {
			log.Warn("duplicate rule number skipped", zap.Uint16("rule", s.Number), zap.String("name", s.Name))
			continue
		}
		seen[s.Number] = true
		unique = append(unique, s)
	}

	children := make(map[uint16][]uint16)
	inDegree := make(map[uint16]int)
	byNumber := make(map[uint16]rules.Spec)
	for _, s := range unique {
		byNumber[s.Number] = s
		inDegree[s.Number] = 0
	}
	for _, s := range unique {
		for _, dep := range s.DependsOn {
			if _, ok := byNumber[dep]; !ok {
				log.Warn("dependency on missing rule ignored", zap.Uint16("rule", s.Number), zap.Uint16("depends_on", dep))
				continue
			}
			children[dep] = append(children[dep], s.Number)
			inDegree[s.Number]++
		}
	}

	var queue []uint16
	for n, d := range inDegree {
		if d == 0 {
			queue = append(queue, n)
		}
	}

	var layers [][]rules.Spec
	processed := 0
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
		var layer []rules.Spec
		var next []uint16
		for _, n := range queue {
			layer = append(layer, byNumber[n])
			processed++
			for _, c := range children[n] {
				inDegree[c]--
				if inDegree[c] == 0 {
					next = append(next, c)
				}
			}
		}
		layers = append(layers, layer)
		queue = next
	}

	if processed != len(unique) {
		return nil, fmt.Errorf("circular dependency detected: ordered %d of %d rules", processed, len(unique))
	}
	return layers, nil
}
