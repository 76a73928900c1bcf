package testutil

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/quellaran/treeopt/pkg/graph"
)

// FakeProc is an in-memory stand-in for a worker process. Send queues the
// request line; Recv runs it through Handler and returns the response line.
// A Handler that blocks simulates a hung calculator; returning an error
// simulates a crash.
type FakeProc struct {
	Handler func(req []byte) ([]byte, error)

	reqCh    chan []byte
	done     chan struct{}
	killOnce sync.Once
}

// NewFakeProc creates a fake worker driven by handler.
func NewFakeProc(handler func(req []byte) ([]byte, error)) *FakeProc {
	return &FakeProc{
		Handler: handler,
		reqCh:   make(chan []byte, 1),
		done:    make(chan struct{}),
	}
}

func (p *FakeProc) Send(line []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	case p.reqCh <- line:
		return nil
	}
}

func (p *FakeProc) Recv() ([]byte, error) {
	select {
	case <-p.done:
		return nil, io.EOF
	case req := <-p.reqCh:
		return p.Handler(req)
	}
}

func (p *FakeProc) Kill() error {
	p.killOnce.Do(func() { close(p.done) })
	return nil
}

// Killed reports whether Kill has been called.
func (p *FakeProc) Killed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// WeightSumHandler answers evaluation requests with the weight-sum metric,
// matching WeightEvaluator's scoring over the wire protocol.
func WeightSumHandler(req []byte) ([]byte, error) {
	var parsed struct {
		Allocation []graph.NodeID       `json:"allocation"`
		Selections map[graph.NodeID]int `json:"selections"`
	}
	if err := json.Unmarshal(req, &parsed); err != nil {
		return nil, err
	}

	total := 0.0
	for _, id := range parsed.Allocation {
		total += NodeWeight(id)
	}
	for _, effect := range parsed.Selections {
		total += float64(effect)
	}

	return json.Marshal(map[string]any{
		"metrics": map[string]float64{"total_damage": total},
		"success": true,
	})
}
