package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/user/hostguard/pkg/kveditor"
)

// Data is the desired key/value content of an edit. In YAML it is a mapping
// kept in file order. Scalars become alternatives ("a|b"), sequences become
// repeated keys, true becomes a bare flag and null or "*" means any value.
// A mapping whose values are all mappings is read as sections.
type Data struct {
	Spec kveditor.DesiredSpec
}

func (d *Data) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: data must be a mapping", node.Line)
	}
	var (
		flat      kveditor.FlatSpec
		sectioned kveditor.SectionedSpec
	)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind == yaml.MappingNode {
			pairs, err := decodePairs(v)
			if err != nil {
				return err
			}
			sectioned = append(sectioned, kveditor.Section{Name: k.Value, Pairs: pairs})
			continue
		}
		val, err := decodeValue(k.Value, v)
		if err != nil {
			return err
		}
		flat = append(flat, kveditor.Pair{Key: k.Value, Value: val})
	}

	switch {
	case len(flat) > 0 && len(sectioned) > 0:
		return fmt.Errorf("line %d: data mixes plain keys and sections", node.Line)
	case len(sectioned) > 0:
		d.Spec = sectioned
	default:
		d.Spec = flat
	}
	return nil
}

func decodePairs(node *yaml.Node) ([]kveditor.Pair, error) {
	var pairs []kveditor.Pair
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		val, err := decodeValue(k.Value, v)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, kveditor.Pair{Key: k.Value, Value: val})
	}
	return pairs, nil
}

func decodeValue(key string, v *yaml.Node) (kveditor.Value, error) {
	switch v.Kind {
	case yaml.ScalarNode:
		switch {
		case v.Tag == "!!null", v.Value == "*":
			return kveditor.Any(), nil
		case v.Tag == "!!bool":
			var on bool
			if err := v.Decode(&on); err != nil {
				return kveditor.Value{}, err
			}
			if !on {
				return kveditor.Value{}, fmt.Errorf("line %d: key %q: false is not a value, use intent notpresent", v.Line, key)
			}
			return kveditor.Flag(), nil
		}
		return kveditor.Is(v.Value), nil
	case yaml.SequenceNode:
		var items []string
		for _, item := range v.Content {
			if item.Kind != yaml.ScalarNode {
				return kveditor.Value{}, fmt.Errorf("line %d: key %q: list items must be scalars", item.Line, key)
			}
			items = append(items, item.Value)
		}
		return kveditor.Each(items...), nil
	}
	return kveditor.Value{}, fmt.Errorf("line %d: key %q: unsupported value", v.Line, key)
}
