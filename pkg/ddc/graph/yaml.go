package graph

import "gopkg.in/yaml.v3"

// ParseDescription unmarshals a YAML-encoded BackendGraph description into
// a NodeDesc tree using the yaml tags already carried by NodeDesc. Config
// file parsing is otherwise out of this package's scope (spec.md §1) — this
// is the one concrete on-ramp from a file on disk to the Builder.Build
// entry point, not a general configuration loader.
func ParseDescription(data []byte) (NodeDesc, error) {
	var desc NodeDesc
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return NodeDesc{}, err
	}
	return desc, nil
}
