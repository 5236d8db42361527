package launcher

import (
	"encoding/base64"
	"encoding/json"
)

// childSpecEnv carries the base64-encoded ChildSpec to the re-exec'd
// process. It never reaches the target command's own environment, which is
// built from scratch in buildEnv.
const childSpecEnv = "JOBD_CHILD_SPEC"

// ChildSpec is everything the re-exec'd child needs to set up its
// credential and filesystem context before execve (spec.md §4.3).
type ChildSpec struct {
	Argv []string `json:"argv"`
	Env  []string `json:"env"`

	WorkingDirectory string `json:"working_directory"`
	RootDirectory    string `json:"root_directory"`

	UserName   string `json:"user_name"`
	GroupName  string `json:"group_name"`
	InitGroups bool   `json:"init_groups"`
	Umask      string `json:"umask"`

	StdinPath  string `json:"stdin_path"`
	StdoutPath string `json:"stdout_path"`
	StderrPath string `json:"stderr_path"`
}

func encodeSpec(s *ChildSpec) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeSpec(encoded string) (*ChildSpec, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var spec ChildSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}
