package queue

import (
	"encoding/json"
	"strings"
)

// Worker is the dashboard's view of one registered worker process. Identities
// look like host:pid:queue1,queue2.
type Worker struct {
	ID        string      `json:"id"`
	Host      string      `json:"host"`
	PID       string      `json:"pid"`
	Queues    []string    `json:"queues"`
	Started   string      `json:"started,omitempty"`
	Processed int64       `json:"processed"`
	Failed    int64       `json:"failed"`
	Job       *WorkingJob `json:"job,omitempty"`
}

// WorkingJob is the JSON the runtime stores under worker:<id> while busy.
type WorkingJob struct {
	Queue   string `json:"queue"`
	RunAt   string `json:"run_at"`
	Payload Job    `json:"payload"`
}

func (w Worker) Working() bool { return w.Job != nil }

type HostGroup struct {
	Host    string   `json:"host"`
	Workers []Worker `json:"workers"`
}

func ParseWorkerID(id string) (host, pid string, queues []string) {
	parts := strings.SplitN(id, ":", 3)
	host = parts[0]
	if len(parts) > 1 {
		pid = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		queues = strings.Split(parts[2], ",")
	}
	return host, pid, queues
}

// GroupByHost projects workers onto their hosts, keeping the first-seen order
// of hosts and the input order within each host.
func GroupByHost(workers []Worker) []HostGroup {
	groups := []HostGroup{}
	index := make(map[string]int)
	for _, w := range workers {
		i, ok := index[w.Host]
		if !ok {
			i = len(groups)
			index[w.Host] = i
			groups = append(groups, HostGroup{Host: w.Host})
		}
		groups[i].Workers = append(groups[i].Workers, w)
	}
	return groups
}

func decodeWorkingJob(data string) (*WorkingJob, error) {
	var job WorkingJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}
