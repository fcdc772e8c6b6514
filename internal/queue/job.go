package queue

import (
	"encoding/json"
	"strings"
)

// Job is the payload the queue runtime pushes onto a queue list. Args stay raw
// JSON: the dashboard shows them but never interprets them.
type Job struct {
	Class string            `json:"class"`
	Args  []json.RawMessage `json:"args"`
}

func (j Job) ToJSON() (string, error) {
	if j.Args == nil {
		j.Args = []json.RawMessage{}
	}
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ArgsText renders one argument per line.
func (j Job) ArgsText() string {
	lines := make([]string, 0, len(j.Args))
	for _, arg := range j.Args {
		lines = append(lines, string(arg))
	}
	return strings.Join(lines, "\n")
}

func JobFromJSON(data string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return Job{}, err
	}

	return j, nil
}
