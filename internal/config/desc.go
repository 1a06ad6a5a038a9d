package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// RunDesc records what a run was asked to do and how much it found, so that
// an output set can be traced back to its parameters.  Credentials are not
// serialized.
type RunDesc struct {
	Name         string  `json:"name" yaml:"name"`
	Vehicles     int     `json:"vehicles" yaml:"vehicles"`
	Samples      int     `json:"samples" yaml:"samples"`
	Observations int     `json:"observations" yaml:"observations"`
	SimTime      float64 `json:"simtime" yaml:"simtime"`
	Config       Config  `json:"config" yaml:"config"`
}

// WriteToFile stores the RunDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rd *RunDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*rd)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*rd, "", "\t")
	default:
		return fmt.Errorf("run descriptor %s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// ReadRunDesc deserializes a byte slice holding a representation of a RunDesc struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadRunDesc(filename string, useYAML bool, dict []byte) (*RunDesc, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("run descriptor %s does not exist or cannot be read: %w", filename, err)
		}
	}
	example := RunDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	return &example, nil
}
